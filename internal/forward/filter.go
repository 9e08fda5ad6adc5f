package forward

import (
	"regexp"

	"github.com/magisk317/napgram/internal/config"
	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/message"
)

// pairState is a configured pair plus the runtime state the pipeline keeps
// for it: the compiled content filter, the sender blockset and the dedup
// windows for both directions.
type pairState struct {
	config.Pair

	filter   *regexp.Regexp
	blockset map[string]struct{}
	dedupQQ  *dedupWindow
	dedupTG  *dedupWindow
}

// newPairState compiles per-pair filters. A malformed filter regex is
// treated as "no filter" and forwarding continues.
func newPairState(p config.Pair, log *logger.Logger) *pairState {
	s := &pairState{
		Pair:     p,
		blockset: make(map[string]struct{}, len(p.Blocklist)),
		dedupQQ:  newDedupWindow(defaultDedupSize),
		dedupTG:  newDedupWindow(defaultDedupSize),
	}

	for _, id := range p.Blocklist {
		s.blockset[id] = struct{}{}
	}

	if p.Filter != "" {
		re, err := regexp.Compile(p.Filter)
		if err != nil {
			log.Warn().Str("filter", p.Filter).Err(err).Msg("malformed pair filter, ignoring")
		} else {
			s.filter = re
		}
	}

	return s
}

// shouldDrop applies the sender blocklist and the content filter.
func (s *pairState) shouldDrop(m *message.Message) bool {
	if _, blocked := s.blockset[m.Sender.ID]; blocked {
		return true
	}
	if s.filter != nil && s.filter.MatchString(m.PlainText()) {
		return true
	}
	return false
}
