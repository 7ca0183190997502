package authstate

import (
	"context"
	"io"
	"sync"
)

// UserState holds the latest user and fans every change out to its streams.
// The zero value is not usable; create one with NewUserState.
type UserState struct {
	mu      sync.RWMutex
	current User
	streams map[*UserStream]struct{}
	ended   bool
	logger  Logger
	done    chan struct{}
}

// NewUserState returns a state seeded with seed.
func NewUserState(seed User) *UserState {
	return &UserState{
		current: seed,
		streams: make(map[*UserStream]struct{}),
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
}

// WithLogger sets the logger used to trace updates.
func (s *UserState) WithLogger(logger Logger) *UserState {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Current returns the latest user. It never blocks on publishers for longer
// than a single update and always has a value.
func (s *UserState) Current() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Publish replaces the current user and queues it on every open stream.
// Publishing after End is ignored.
func (s *UserState) Publish(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	s.current = u
	for stream := range s.streams {
		stream.push(u)
	}

	s.logger.Trace("user state updated", "user_id", u.ID, "status", u.Status, "observers", len(s.streams))
}

// Subscribe opens a stream whose first item is the current user followed by
// every later change. The stream is closed when ctx is done, when Close is
// called on it, or after End once drained.
//
// Streams are lossless, so an open stream queues every publish until it is
// read. Callers that stop reading must Close the stream or cancel ctx, or
// the queue grows with each update.
func (s *UserState) Subscribe(ctx context.Context) *UserStream {
	stream := &UserStream{
		state:  s,
		signal: make(chan struct{}, 1),
	}

	s.mu.Lock()
	stream.queue = append(stream.queue, s.current)
	if s.ended {
		stream.closed = true
	} else {
		s.streams[stream] = struct{}{}
	}
	s.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		stream.stop = context.AfterFunc(ctx, func() {
			_ = stream.Close()
		})
	}

	return stream
}

// Follow drains src into the state until src is closed, then ends the state.
// It returns immediately; the returned channel is closed once src is drained.
func (s *UserState) Follow(src <-chan User) <-chan struct{} {
	go func() {
		for u := range src {
			s.Publish(u)
		}
		s.End()
	}()
	return s.done
}

// End stops publishing. Open streams deliver what they already queued and
// then report io.EOF. The current user is kept.
func (s *UserState) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	streams := s.streams
	s.streams = make(map[*UserStream]struct{})
	s.mu.Unlock()

	for stream := range streams {
		stream.finish()
	}
	close(s.done)
}

// Observers returns the number of open streams
func (s *UserState) Observers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

func (s *UserState) remove(stream *UserStream) {
	s.mu.Lock()
	delete(s.streams, stream)
	s.mu.Unlock()
}

// UserStream is an ordered, lossless view of user changes for one observer.
// Next is safe for a single consumer.
type UserStream struct {
	state  *UserState
	mu     sync.Mutex
	queue  []User
	closed bool
	signal chan struct{}
	stop   func() bool
}

// Next blocks until the next user is available. It returns io.EOF once the
// stream is closed and drained, or ctx.Err() if ctx is done first.
func (s *UserStream) Next(ctx context.Context) (User, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			u := s.queue[0]
			s.queue[0] = User{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return u, nil
		}
		if s.closed {
			s.mu.Unlock()
			return User{}, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return User{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Changes adapts the stream to a channel. The channel is closed when the
// stream ends or ctx is done, and the stream is closed with it.
func (s *UserStream) Changes(ctx context.Context) <-chan User {
	out := make(chan User)
	go func() {
		defer close(out)
		defer s.Close()
		for {
			u, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close detaches the stream. Items already queued can still be read; later
// publishes are not queued.
func (s *UserStream) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.state.remove(s)
	s.finish()
	return nil
}

func (s *UserStream) push(u User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()
	s.notify()
}

func (s *UserStream) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *UserStream) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
