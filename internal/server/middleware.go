package server

import (
	"context"
	"net/http"
	"time"

	"endpoint-dispatcher/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const journalTimeout = 2 * time.Second

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id assigned to r, or "" outside the pipeline.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// statusWriter remembers what was sent so the outer middleware can report it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

// requestID tags the request with an id for log correlation. A client
// supplied X-Request-Id is kept.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument logs every request and hands it to the journal. It runs
// deferred so responses aborted by a panic are reported too.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)

		defer func() {
			v := recover()
			s.observe(r, sw, time.Since(start), v != nil)
			if v != nil {
				panic(v)
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

func (s *Server) observe(r *http.Request, sw *statusWriter, elapsed time.Duration, aborted bool) {
	rte, _ := s.table.Match(r.URL.Path)

	msg := "Request served"
	if aborted {
		msg = "Request aborted"
	}
	s.logger.Debug(msg,
		zap.String("request_id", RequestID(r)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("route", rte.Prefix),
		zap.Int("status", sw.status),
		zap.Int64("bytes", sw.bytes),
		zap.Duration("duration", elapsed))

	if s.journal == nil {
		return
	}
	rec := model.NewAccessRecord(r.Method, r.URL.Path, rte.Prefix, sw.status)
	rec.RequestID = RequestID(r)
	rec.Bytes = sw.bytes
	rec.Duration = elapsed
	rec.RemoteAddr = r.RemoteAddr
	rec.Aborted = aborted

	s.journalWG.Add(1)
	go func() {
		defer s.journalWG.Done()
		s.record(rec)
	}()
}

func (s *Server) record(rec model.AccessRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.Save(ctx, &rec); err != nil {
		s.logger.Warn("Failed to journal request",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
	}
}

// recoverer keeps a faulty handler from taking the connection loop down. If
// nothing was sent yet the client gets a 500; otherwise the response is
// aborted so it can't be mistaken for a complete one.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrap(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			s.logger.Error("Handler panicked",
				zap.String("request_id", RequestID(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Any("panic", v),
				zap.Stack("stack"))

			if sw.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(sw, r)
	})
}
