package features

// UnseenCode is returned for categorical values the encoder was not fitted on.
const UnseenCode = -1

// Encoder maps a categorical value to an integer code.
type Encoder interface {
	// Transform never fails; unseen values map to a fixed fallback code.
	Transform(value string) (code int, seen bool)
}

// LabelEncoder assigns codes by position in the sorted class list, matching
// how the training side fitted it.
type LabelEncoder struct {
	codes    map[string]int
	fallback int
}

func NewLabelEncoder(classes []string) *LabelEncoder {
	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := codes[c]; !dup {
			codes[c] = i
		}
	}
	return &LabelEncoder{codes: codes, fallback: UnseenCode}
}

func (e *LabelEncoder) Transform(value string) (int, bool) {
	if code, ok := e.codes[value]; ok {
		return code, true
	}
	return e.fallback, false
}

func (e *LabelEncoder) Len() int { return len(e.codes) }
