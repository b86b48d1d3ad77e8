package conversation

func (s *Service) CleanupIdle() int {
	return s.cleanupIdle()
}
