package capture

// ProcessUserCommand handles an operator key for this source. It returns
// whether the key was recognized. A setting that cannot be applied is logged
// and the key still counts as handled.
func (s *Source) ProcessUserCommand(key rune) bool {
	cfg := s.Config()
	switch key {
	case '+', '=':
		s.SetExposure(cfg.Exposure + 1)
	case '-', '_':
		s.SetExposure(cfg.Exposure - 1)
	case ']':
		s.SetFPS(cfg.FPS + 1)
	case '[':
		if cfg.FPS <= 1 {
			return true
		}
		s.SetFPS(cfg.FPS - 1)
	default:
		return false
	}
	return true
}
