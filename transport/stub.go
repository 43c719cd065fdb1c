//go:build !linux

package transport

import "context"

type Socket struct{}

func Dial(conf *Config) (*Socket, error) {
	return nil, ErrNotSupported
}

func (s *Socket) PID() uint32 { return 0 }

func (s *Socket) Send(ctx context.Context, b []byte) error { return ErrNotSupported }

func (s *Socket) Receive(ctx context.Context) (Datagram, error) { return Datagram{}, ErrNotSupported }

func (s *Socket) JoinGroup(group uint32) error { return ErrNotSupported }

func (s *Socket) LeaveGroup(group uint32) error { return ErrNotSupported }

func (s *Socket) Close() error { return nil }
