package strategy

import (
	"github.com/meridianhq/meridian/internal/domain"
)

// Reserved state keys. User pairs with these names are overwritten on save.
const (
	keyOrderIDCount    = "OrderIdCount"
	keyPositionIDCount = "PositionIdCount"
)

// Save captures the strategy's restart state: the user hook's pairs plus
// the reserved id generator counts, so a restarted strategy never reissues
// a client order id or position id.
func (s *Strategy) Save() map[string]any {
	state := make(map[string]any)

	if saver, ok := s.trader.(StateSaver); ok {
		s.runCallback("OnSave", func() error {
			for k, v := range saver.OnSave() {
				state[k] = v
			}
			return nil
		})
	}

	state[keyOrderIDCount] = int64(s.factory.Generator().Count())
	var posCount int64
	if s.posGen != nil {
		posCount = s.posGen.Count()
	}
	state[keyPositionIDCount] = posCount
	return state
}

// Load restores saved strategy state. Both reserved keys are optional so a
// fresh strategy loads cleanly; when present they reseed the id generators
// before the user hook runs, so OnLoad already sees the restored counters.
func (s *Strategy) Load(state map[string]any) error {
	if state == nil {
		return nil
	}

	if _, present := state[keyOrderIDCount]; present {
		count := domain.RecordInt(state, keyOrderIDCount)
		s.factory.Generator().Reseed(int(count))
		s.log.Info().Int64("count", count).Msg("order id generator reseeded")
	}
	if _, present := state[keyPositionIDCount]; present {
		if count := domain.RecordInt(state, keyPositionIDCount); s.posGen != nil {
			s.posGen.Reseed(count)
			s.log.Info().Int64("count", count).Msg("position id generator reseeded")
		}
	}

	if loader, ok := s.trader.(StateLoader); ok {
		return s.runCallback("OnLoad", func() error {
			loader.OnLoad(state)
			return nil
		})
	}
	return nil
}
