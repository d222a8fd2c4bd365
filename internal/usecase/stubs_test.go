package usecase

import (
	"context"
	"strconv"
	"time"
)

type stubCache struct {
	values    map[string]interface{}
	hashes    map[string]map[string]string
	setErrs   []error
	incrErrs  []error
	existsErr error
	setKeys   []string
	ttls      []time.Duration
}

func newStubCache() *stubCache {
	return &stubCache{
		values: make(map[string]interface{}),
		hashes: make(map[string]map[string]string),
	}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.ttls = append(s.ttls, expiration)
	if err := popErr(&s.setErrs); err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	delete(s.values, key)
	return nil
}

func (s *stubCache) Exists(ctx context.Context, key string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.values[key]
	return ok, nil
}

func (s *stubCache) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	if err := popErr(&s.incrErrs); err != nil {
		return err
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	n, _ := strconv.ParseInt(h[field], 10, 64)
	h[field] = strconv.FormatInt(n+incr, 10)
	return nil
}

func (s *stubCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }
