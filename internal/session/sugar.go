package session

import (
	"context"
	"net/http"

	"github.com/nonblock/reacthttp/internal/model"
)

func (s *Session) request(ctx context.Context, verb model.Verb, uri string, opts ...model.Option) (*model.Response, error) {
	req := &model.Request{Verb: verb, URI: uri, Header: http.Header{}}
	return s.Do(ctx, req, opts...)
}

func (s *Session) Get(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbGet, uri, opts...)
}

func (s *Session) Head(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbHead, uri, opts...)
}

func (s *Session) Post(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbPost, uri, opts...)
}

func (s *Session) Put(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbPut, uri, opts...)
}

func (s *Session) Delete(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbDelete, uri, opts...)
}

func (s *Session) Patch(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbPatch, uri, opts...)
}

func (s *Session) Options(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbOptions, uri, opts...)
}

func (s *Session) Trace(ctx context.Context, uri string, opts ...model.Option) (*model.Response, error) {
	return s.request(ctx, model.VerbTrace, uri, opts...)
}
