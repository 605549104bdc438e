//go:build !linux

package conntrack

func Open(Options) (*Source, error) {
	return nil, ErrUnsupported
}
