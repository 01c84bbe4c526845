package settlement

// checkAndMark atomically records the fingerprint as processed. Duplicates
// fail without mutating state. The mark must land before any externally
// observable effect of the instruction; that ordering is the replay defence.
func (e *Engine) checkAndMark(fingerprint [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	inserted, err := e.state.MarkProcessed(fingerprint)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrMessageAlreadyProcessed
	}
	return nil
}

// IsMessageProcessed reports whether a fingerprint has already been applied.
// Pure read for external inspection.
func (e *Engine) IsMessageProcessed(fingerprint [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.IsProcessed(fingerprint)
}
