package model

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	bucketvision "github.com/RocketRedNeck/BucketVision"
	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// Classifier is a model that classifies image features.
type Classifier interface {
	Parameters() Parameters
	Classify(features []float64) (Response, error)
	Close() error
}

// Type is the kind of model.
type Type string

// Model types.
const (
	// Classification models return a score per label.
	Classification Type = "classification"

	// ObjectDetection models return bounding boxes for recognized objects.
	ObjectDetection Type = "object_detection"
)

// Sensor value of models that take images.
const sensorCamera = 3

// Parameters describe the input and output of a model.
type Parameters struct {
	Type   Type  `json:"model_type"`
	Sensor int64 `json:"sensor"`

	ImageInputWidth   int `json:"image_input_width"`
	ImageInputHeight  int `json:"image_input_height"`
	ImageChannelCount int `json:"image_channel_count"`

	Labels []string `json:"labels"`
}

// String returns a human-readable summary of the model parameters.
func (p Parameters) String() string {
	s := fmt.Sprintf("%s, %dx%d (%d channels)", p.Type, p.ImageInputWidth, p.ImageInputHeight, p.ImageChannelCount)
	if len(p.Labels) > 0 {
		s += ", classes " + strings.Join(p.Labels, ",")
	}
	return s
}

// Project identifies where the model was built.
type Project struct {
	DeployVersion int64  `json:"deploy_version"`
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Owner         string `json:"owner"`
}

// String returns human-readable project info.
func (p Project) String() string {
	return fmt.Sprintf("%s/%s (v%v)", p.Owner, p.Name, p.DeployVersion)
}

type status struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type helloRequest struct {
	ID    int64 `json:"id"`
	Hello int   `json:"hello"` // 1
}

type helloResponse struct {
	status
	ModelParameters Parameters `json:"model_parameters"`
	Project         Project    `json:"project"`
}

type classifyRequest struct {
	ID       int64     `json:"id"`
	Classify []float64 `json:"classify"`
}

// Box is an object found by an object detection model, in model input
// coordinates.
type Box struct {
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// Response is the outcome of classifying one image.
type Response struct {
	status

	Result struct {
		// Based on the model type, either Classification or BoundingBoxes is set.
		Classification map[string]float64 `json:"classification,omitempty"`
		BoundingBoxes  []Box              `json:"bounding_boxes,omitempty"`
		Anomaly        float64            `json:"anomaly,omitempty"`
	} `json:"result"`

	Timing struct {
		DSP            float64 `json:"dsp"`
		Classification float64 `json:"classification"`
		Anomaly        float64 `json:"anomaly"`
	} `json:"timing"`
}

// String returns a summary of the result.
func (r Response) String() string {
	ms := fmt.Sprintf("%dms", int64(r.Timing.Classification))
	var anomaly string
	if r.Result.Anomaly != 0 {
		anomaly = fmt.Sprintf(" anomaly=%.4f", r.Result.Anomaly)
	}
	if r.Result.Classification != nil {
		var kv []string
		for k, v := range r.Result.Classification {
			kv = append(kv, fmt.Sprintf("%s=%.4f", k, v))
		}
		sort.Strings(kv)
		return fmt.Sprintf("classification in %s: %s%s", ms, strings.Join(kv, " "), anomaly)
	} else if r.Result.BoundingBoxes != nil {
		var boxes []string
		for _, b := range r.Result.BoundingBoxes {
			boxes = append(boxes, fmt.Sprintf("x=%d,y=%d,width=%d,height=%d,label=%s,value=%.4f", b.X, b.Y, b.Width, b.Height, b.Label, b.Value))
		}
		return fmt.Sprintf("boundingboxes in %s: %s%s", ms, strings.Join(boxes, ", "), anomaly)
	}
	return "(result without classification and bounding boxes)"
}

// ProcessOpts are options for a model process.
type ProcessOpts struct {
	// Working directory of the model process. Not removed on Close. If
	// empty, a temporary directory is made and removed on Close.
	WorkDir string

	// How long to wait for a response, default 5s.
	Timeout time.Duration

	Logger *zerolog.Logger
}

// Process is a connection to a model process speaking JSON over a unix
// socket. Requests are serialized.
type Process struct {
	params  Parameters
	project Project
	opts    ProcessOpts
	log     zerolog.Logger
	tempDir string
	cancel  context.CancelFunc

	mutex  sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	lastID int64
}

var _ Classifier = (*Process)(nil)

// StartProcess starts the model executable at path and connects to it.
// Callers must call Close.
func StartProcess(path string, opts *ProcessOpts) (proc *Process, rerr error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path for model %q: %v", path, err)
	}
	p := newProcess(opts)

	// Make sure we cleanup on failure.
	defer func() {
		if rerr != nil {
			p.Close()
		}
	}()

	if p.opts.WorkDir == "" {
		dir, err := bucketvision.TempDir("model")
		if err != nil {
			return nil, fmt.Errorf("making temp dir: %v", err)
		}
		p.opts.WorkDir = dir
		p.tempDir = dir
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	cmd := exec.CommandContext(ctx, path, "runner.sock")
	cmd.Dir = p.opts.WorkDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting model process: %v", err)
	}
	go cmd.Wait()

	sockPath := filepath.Join(p.opts.WorkDir, "runner.sock")
	for i := 0; ; i++ {
		conn, err := net.Dial("unix", sockPath)
		if err == nil {
			p.conn = conn
			break
		}
		if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("opening model socket: %v", err)
		}
		if i == 1000 {
			return nil, fmt.Errorf("no socket from model")
		}
		time.Sleep(time.Millisecond)
	}
	if err := p.hello(); err != nil {
		return nil, err
	}
	return p, nil
}

// Dial connects to a model process that is already listening on sockPath.
func Dial(sockPath string, opts *ProcessOpts) (proc *Process, rerr error) {
	p := newProcess(opts)
	defer func() {
		if rerr != nil {
			p.Close()
		}
	}()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("opening model socket: %v", err)
	}
	p.conn = conn
	if err := p.hello(); err != nil {
		return nil, err
	}
	return p, nil
}

func newProcess(opts *ProcessOpts) *Process {
	p := &Process{}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.Timeout == 0 {
		p.opts.Timeout = 5 * time.Second
	}
	p.log = logging.Component(p.opts.Logger, "model", "")
	return p
}

func (p *Process) hello() error {
	p.r = bufio.NewReader(p.conn)
	req := helloRequest{ID: p.nextID(), Hello: 1}
	var resp helloResponse
	if err := p.transact(req, &resp, &resp.status); err != nil {
		return fmt.Errorf("hello to model: %v", err)
	}
	mp := resp.ModelParameters
	if mp.Type == "" {
		mp.Type = Classification
	}
	if mp.Sensor != sensorCamera {
		return fmt.Errorf("sensor for this model is %d, expected camera", mp.Sensor)
	}
	if mp.ImageInputWidth <= 0 || mp.ImageInputHeight <= 0 {
		return fmt.Errorf("model has invalid input size %dx%d", mp.ImageInputWidth, mp.ImageInputHeight)
	}
	p.params = mp
	p.project = resp.Project
	p.log.Info().Stringer("model", mp).Stringer("project", p.project).Msg("model ready")
	return nil
}

// Do a single request/response transaction.
func (p *Process) transact(req, resp interface{}, st *status) error {
	if err := json.NewEncoder(p.conn).Encode(req); err != nil {
		return fmt.Errorf("writing json to model: %v", err)
	}
	p.conn.SetReadDeadline(time.Now().Add(p.opts.Timeout))

	// The model terminates each response with a zero byte.
	buf, err := p.r.ReadBytes(0)
	if err != nil && !(errors.Is(err, io.EOF) && len(buf) > 0) {
		return fmt.Errorf("reading response from model: %v", err)
	}
	buf = []byte(strings.TrimRight(string(buf), "\x00\n"))
	if err := json.Unmarshal(buf, resp); err != nil {
		return fmt.Errorf("parsing json from model: %v", err)
	}
	p.log.Trace().RawJSON("response", buf).Msg("model response")
	if !st.Success {
		return fmt.Errorf("model: %s", st.Error)
	}
	return nil
}

func (p *Process) nextID() int64 {
	p.lastID++
	return p.lastID
}

// Parameters returns the input and output parameters of the model.
func (p *Process) Parameters() Parameters {
	return p.params
}

// Project returns the project the model came from.
func (p *Process) Project() Project {
	return p.project
}

// Classify runs the model on the features.
func (p *Process) Classify(features []float64) (Response, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.conn == nil {
		return Response{}, fmt.Errorf("model closed")
	}
	req := classifyRequest{ID: p.nextID(), Classify: features}
	var resp Response
	err := p.transact(req, &resp, &resp.status)
	return resp, err
}

// Close shuts down the model process.
func (p *Process) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
	}
	return nil
}
