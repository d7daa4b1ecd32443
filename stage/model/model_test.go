package model_test

import (
	"encoding/json"
	"image"
	"image/color"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/stage/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// serveModel answers hello and classify requests like a model process.
func serveModel(t *testing.T, sensor int) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "runner.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	done := make(chan struct{})
	t.Cleanup(func() {
		l.Close()
		<-done
	})

	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := json.NewDecoder(conn)
		for {
			var req struct {
				ID       int64     `json:"id"`
				Hello    int       `json:"hello"`
				Classify []float64 `json:"classify"`
			}
			if err := dec.Decode(&req); err != nil {
				return
			}
			var resp interface{}
			if req.Hello == 1 {
				resp = map[string]interface{}{
					"id": req.ID, "success": true,
					"model_parameters": map[string]interface{}{
						"model_type": "object_detection", "sensor": sensor,
						"image_input_width": 96, "image_input_height": 96, "image_channel_count": 3,
						"labels": []string{"ball"},
					},
					"project": map[string]interface{}{"name": "bucket", "owner": "team", "deploy_version": 3},
				}
			} else if len(req.Classify) != 96*96 {
				resp = map[string]interface{}{"id": req.ID, "success": false, "error": "wrong feature count"}
			} else {
				resp = map[string]interface{}{
					"id": req.ID, "success": true,
					"result": map[string]interface{}{
						"bounding_boxes": []map[string]interface{}{
							{"label": "ball", "value": 0.9, "x": 10, "y": 10, "width": 20, "height": 20},
						},
					},
				}
			}
			buf, _ := json.Marshal(resp)
			conn.Write(append(append(buf, '\n'), 0))
		}
	}()
	return sock
}

func TestModelStage(t *testing.T) {
	proc, err := model.Dial(serveModel(t, 3), nil)
	require.NoError(t, err)
	require.Equal(t, model.ObjectDetection, proc.Parameters().Type)
	require.Equal(t, "team/bucket (v3)", proc.Project().String())

	st, err := model.New(proc, nil)
	require.NoError(t, err)
	defer st.Close()

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	out, err := st.Transform(&bucketvision.Frame{Seq: 1, Image: img})
	require.NoError(t, err)

	resp, ok := out.Data.(model.Response)
	require.True(t, ok)
	require.Len(t, resp.Result.BoundingBoxes, 1)
	require.Equal(t, "ball", resp.Result.BoundingBoxes[0].Label)
	require.Contains(t, resp.String(), "label=ball")

	// The 96x96 input is the centered 240x240 crop, so the box lands at
	// 40+10*2.5, 10*2.5.
	require.NotNil(t, out.Image)
	r, g, b, _ := out.Image.At(65, 25).RGBA()
	require.Equal(t, [3]uint32{0xffff, 0, 0xffff}, [3]uint32{r, g, b})
	require.Equal(t, color.RGBA{}, img.At(65, 25), "input image modified")
}

func TestModelNotCamera(t *testing.T) {
	_, err := model.Dial(serveModel(t, 1), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected camera")
}

func TestFeatures(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{0x12, 0x34, 0x56, 0xff})
	img.SetNRGBA(1, 0, color.NRGBA{0xff, 0xff, 0xff, 0xff})
	require.Equal(t, []float64{0x123456, 0xffffff}, model.Features(img, 3))

	gray := model.Features(img, 1)
	require.Len(t, gray, 2)
	require.Equal(t, float64(0xffffff), gray[1])
}

type fakeClassifier struct {
	scores []float64
	n      int
}

func (f *fakeClassifier) Parameters() model.Parameters {
	return model.Parameters{
		Type: model.Classification, Sensor: 3,
		ImageInputWidth: 4, ImageInputHeight: 4, ImageChannelCount: 1,
		Labels: []string{"ball", "empty"},
	}
}

func (f *fakeClassifier) Classify(features []float64) (model.Response, error) {
	var resp model.Response
	v := f.scores[f.n%len(f.scores)]
	f.n++
	resp.Result.Classification = map[string]float64{"ball": v, "empty": 1 - v}
	return resp, nil
}

func (f *fakeClassifier) Close() error { return nil }

func TestModelSmooth(t *testing.T) {
	st, err := model.New(&fakeClassifier{scores: []float64{1, 0}}, &model.Opts{Smooth: 2})
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var got []float64
	for i := 0; i < 3; i++ {
		out, err := st.Transform(&bucketvision.Frame{Seq: uint64(i + 1), Image: img})
		require.NoError(t, err)
		require.Nil(t, out.Image, "classification draws nothing")
		got = append(got, out.Data.(model.Response).Result.Classification["ball"])
	}
	require.InDeltaSlice(t, []float64{0.5, 0.5, 0.5}, got, 1e-9)
}
