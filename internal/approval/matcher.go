package approval

import (
	"context"
	"log"

	"faceapproval/internal/model"
)

// Matcher resolves a face payload to a registered name. The session
// lifecycle does not care how matching works; implementations range from
// the prefix placeholder below to an external recognition service.
type Matcher interface {
	Match(ctx context.Context, payload string, regs []model.Registration) (name string, ok bool)
}

// Fingerprint is the fixed-length prefix of a payload stored and compared
// in place of a real biometric feature. Not a hash, despite what the
// stored column is casually called.
func Fingerprint(payload string, length int) string {
	if len(payload) <= length {
		return payload
	}
	return payload[:length]
}

// PrefixMatcher matches by exact fingerprint equality, first match in
// storage order.
type PrefixMatcher struct {
	Length int
}

// NewPrefixMatcher creates a matcher over length-char fingerprints.
func NewPrefixMatcher(length int) PrefixMatcher {
	if length <= 0 {
		length = fingerprintLen
	}
	return PrefixMatcher{Length: length}
}

func (pm PrefixMatcher) Match(_ context.Context, payload string, regs []model.Registration) (string, bool) {
	fp := Fingerprint(payload, pm.Length)
	for _, reg := range regs {
		if reg.FaceData == fp {
			return reg.Name, true
		}
	}
	return "", false
}

// Recognizer is the slice of the remote face service this system can use:
// a 1:N search of the payload against enrolled identities.
type Recognizer interface {
	Search(ctx context.Context, payload string) (name string, matched bool, err error)
}

// RemoteMatcher delegates to an external recognition service and falls
// through to next when the service errors or finds nobody this system
// knows about.
type RemoteMatcher struct {
	Recognizer Recognizer
	Next       Matcher
}

func (rm RemoteMatcher) Match(ctx context.Context, payload string, regs []model.Registration) (string, bool) {
	name, matched, err := rm.Recognizer.Search(ctx, payload)
	if err != nil {
		log.Printf("remote match failed, using local matcher: %v", err)
		return rm.Next.Match(ctx, payload, regs)
	}
	if matched {
		for _, reg := range regs {
			if reg.Name == name {
				return name, true
			}
		}
	}
	return rm.Next.Match(ctx, payload, regs)
}
