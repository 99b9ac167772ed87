package media

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by the stub bindings used when the build
// carries no platform media integration.
var ErrUnavailable = errors.New("media: no platform binding")

type unavailable struct{}

// Unavailable returns Factory and Devices stubs for builds without a
// platform media binding. Every call fails with ErrUnavailable, which the
// call engine surfaces as a normal setup failure.
func Unavailable() (Factory, Devices) {
	return unavailable{}, unavailable{}
}

func (unavailable) NewPeerConnection() (PeerConnection, error) {
	return nil, ErrUnavailable
}

func (unavailable) RequestPermissions(ctx context.Context, video bool) error {
	return ErrUnavailable
}

func (unavailable) GetLocalStream(ctx context.Context, video bool) (Stream, error) {
	return nil, ErrUnavailable
}
