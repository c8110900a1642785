package inference

import (
	"bytes"
	"context"
	"time"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/router"
)

// StreamResult is what ProcessStream hands the HTTP layer: the first chunk
// (already consumed off the wire to confirm the call actually started) plus
// the remaining lazy tail, matching spec.md §4.F stage 5's streaming note
// ("returns (first_chunk, tail_stream, raw_request_str)").
type StreamResult struct {
	InferenceID gwtypes.ID
	EpisodeID   gwtypes.ID
	RawRequest  string
	First       provider.StreamChunk
	Tail        provider.ChunkStream
}

// ProcessStream implements spec.md §4.F's streaming path: the same
// validate/resolve-files/render prefix as Process, then a provider-fallback
// dispatch that advances to the next configured provider only when a call
// fails before its first chunk arrives; once bytes start reaching the
// client a provider switch would require un-sending them. Each provider is
// tried once: there is no per-provider retry or backoff on this path.
// Unlike Process, the content-addressed cache is not consulted: caching a
// live SSE sequence would require buffering the entire response before a
// cache hit could replay it, defeating the point of streaming, and no pack
// example caches a stream either.
func ProcessStream(ctx context.Context, deps Deps, req *gwtypes.Request) (*StreamResult, error) {
	inferenceID := gwtypes.NewID()

	episodeID := inferenceID
	if req.EpisodeID != nil {
		episodeID = *req.EpisodeID
	}

	route, err := router.Resolve(deps.Store, req)
	if err != nil {
		return nil, err
	}

	fn, hasFn := lookupFunction(deps.Store, route)

	if err := validate(deps.Store, fn, hasFn, req); err != nil {
		return nil, err
	}

	if deps.FetchFiles {
		if err := resolveFiles(ctx, deps.httpClient(), deps.ObjectStore, &req.Input); err != nil {
			return nil, err
		}
	}

	resolvedInput := resolveInput(req.Input)

	renderedReq, err := render(deps.Store, fn, hasFn, route, req)
	if err != nil {
		return nil, err
	}

	if len(route.Providers) == 0 {
		return nil, gwerrors.New(gwerrors.KindUnknownModel, "model %q has no configured providers", route.ModelName)
	}

	stream, rawRequest, attempt, err := dispatchStreamWithVariantFallback(ctx, deps, fn, hasFn, inferenceID, route, req, renderedReq)

	baseRecord := InferenceRecord{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		FunctionName: route.FunctionName,
		FunctionType: route.FunctionType,
		VariantName:  route.VariantName,
		Input:        resolvedInput,
		Tags:         req.Tags,
	}

	if err != nil {
		rec := baseRecord
		rec.Err = classify(err)

		if attempt != nil {
			rec.Attempts = []gwtypes.ModelInferenceResponse{*attempt}
		}

		persist(deps.Sink, req.DryRun, rec)

		return nil, err
	}

	first, ok := stream.Next(ctx)
	if !ok {
		err := stream.Err()
		if err == nil {
			err = gwerrors.New(gwerrors.KindInferenceServer, "stream closed before any chunk")
		}

		rec := baseRecord
		rec.Err = classify(err)
		rec.Attempts = []gwtypes.ModelInferenceResponse{*attempt}
		persist(deps.Sink, req.DryRun, rec)

		return nil, err
	}

	tail := &persistingStream{
		ChunkStream: stream,
		sink:        deps.Sink,
		dryRun:      req.DryRun,
		record:      baseRecord,
		attempt:     *attempt,
		buf:         bytes.Buffer{},
	}
	tail.buf.Write(first.RawData)

	return &StreamResult{
		InferenceID: inferenceID,
		EpisodeID:   episodeID,
		RawRequest:  rawRequest,
		First:       first,
		Tail:        tail,
	}, nil
}

// dispatchStreamWithVariantFallback mirrors dispatchWithVariantFallback for
// the streaming path: if the initial variant's provider list is exhausted
// before any chunk arrives and the function allows variant fallback, it
// re-renders against another selectable variant and tries again. route is
// mutated in place to reflect whichever variant ultimately streamed (or the
// last one tried).
func dispatchStreamWithVariantFallback(
	ctx context.Context,
	deps Deps,
	fn gwconfig.FunctionConfig,
	hasFn bool,
	inferenceID gwtypes.ID,
	route *router.Route,
	origReq *gwtypes.Request,
	renderedReq *gwtypes.Request,
) (provider.ChunkStream, string, *gwtypes.ModelInferenceResponse, error) {
	stream, rawRequest, attempt, err := dispatchStream(ctx, deps, inferenceID, route, renderedReq)

	if !hasFn || !route.VariantFallback || route.DirectModel || !exhausted(err) {
		return stream, rawRequest, attempt, err
	}

	tried := map[string]bool{route.VariantName: true}

	for {
		variant, ok := router.NextVariant(fn, tried)
		if !ok {
			break
		}

		tried[variant.Name] = true

		model, merr := deps.Store.GetModel(variant.ModelName)
		if merr != nil {
			continue
		}

		*route = router.Route{
			FunctionName:    fn.Name,
			FunctionType:    fn.Type,
			VariantName:     variant.Name,
			Variant:         variant,
			ModelName:       model.Name,
			Providers:       model.Providers,
			VariantFallback: fn.VariantFallback,
		}

		rerendered, rerr := render(deps.Store, fn, hasFn, route, origReq)
		if rerr != nil {
			return nil, "", attempt, rerr
		}

		stream, rawRequest, attempt, err = dispatchStream(ctx, deps, inferenceID, route, rerendered)

		if !exhausted(err) {
			return stream, rawRequest, attempt, err
		}
	}

	return stream, rawRequest, attempt, err
}

// dispatchStream tries each configured provider in order, returning the
// first one whose InferStream call succeeds. attempt is populated (even on
// total failure) so the caller can persist a ModelInference row for the
// last try, mirroring dispatch's attempts bookkeeping for the unary path.
func dispatchStream(ctx context.Context, deps Deps, inferenceID gwtypes.ID, route *router.Route, req *gwtypes.Request) (provider.ChunkStream, string, *gwtypes.ModelInferenceResponse, error) {
	var lastErr error

	var lastAttempt *gwtypes.ModelInferenceResponse

	for _, p := range route.Providers {
		adapter, ok := deps.Providers.Get(p.Type)
		if !ok || adapter.StreamChatter == nil {
			lastErr = gwerrors.New(gwerrors.KindProviderNotFound, "no stream-capable provider registered for %q", p.Type)
			lastAttempt = &gwtypes.ModelInferenceResponse{
				ID: gwtypes.NewID(), InferenceID: inferenceID,
				ModelName: p.ModelName, ProviderName: string(p.Type), ProviderType: string(p.Type),
				Errored: true, ErrorKind: string(gwerrors.KindProviderNotFound), ErrorMsg: lastErr.Error(),
			}

			continue
		}

		creds := resolveCredentials(p)

		start := time.Now()

		stream, rawRequest, err := adapter.InferStream(ctx, req, p.ProviderConfig(), creds)

		attempt := &gwtypes.ModelInferenceResponse{
			ID:           gwtypes.NewID(),
			InferenceID:  inferenceID,
			ModelName:    p.ModelName,
			ProviderName: string(p.Type),
			ProviderType: string(p.Type),
			RawRequest:   rawRequest,
			LatencyMS:    time.Since(start).Milliseconds(),
		}

		if err != nil {
			ge := classify(err)
			attempt.Errored = true
			attempt.ErrorKind = string(ge.Kind)
			attempt.ErrorMsg = ge.Message
			lastErr = err
			lastAttempt = attempt

			log.Warn(ctx, "stream provider failed before first chunk", log.String("provider", string(p.Type)), log.Cause(err))

			continue
		}

		return stream, rawRequest, attempt, nil
	}

	return nil, "", lastAttempt, gwerrors.Wrap(gwerrors.KindModelProvidersExhausted, lastErr, "all providers exhausted for model %q", route.ModelName)
}

// persistingStream wraps a provider's ChunkStream, accumulating raw bytes as
// the caller drains it and persisting one InferenceRecord when the caller
// calls Close, the streaming equivalent of Process's stage 7, since a
// streamed response has no single "final output" available until the last
// chunk has actually been sent.
type persistingStream struct {
	provider.ChunkStream

	sink    Sink
	dryRun  bool
	record  InferenceRecord
	attempt gwtypes.ModelInferenceResponse
	buf     bytes.Buffer
	closed  bool
}

func (p *persistingStream) Next(ctx context.Context) (provider.StreamChunk, bool) {
	chunk, ok := p.ChunkStream.Next(ctx)
	if ok {
		p.buf.Write(chunk.RawData)
	}

	return chunk, ok
}

func (p *persistingStream) Close() error {
	if p.closed {
		return nil
	}

	p.closed = true

	p.attempt.RawResponse = p.buf.String()

	rec := p.record
	rec.Attempts = []gwtypes.ModelInferenceResponse{p.attempt}

	if err := p.ChunkStream.Err(); err != nil {
		rec.Err = classify(err)
	} else {
		rec.Result = &gwtypes.InferenceResult{
			InferenceID:     rec.InferenceID,
			EpisodeID:       rec.EpisodeID,
			VariantName:     rec.VariantName,
			FunctionType:    rec.FunctionType,
			ModelInferences: rec.Attempts,
		}
	}

	persist(p.sink, p.dryRun, rec)

	return p.ChunkStream.Close()
}
