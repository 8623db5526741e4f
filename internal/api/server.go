package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"go-analyst/internal/store"
	"go-analyst/internal/tools"
	"go-analyst/pkg/config"
	"go-analyst/pkg/format"
	"go-analyst/pkg/logger"
	"go-analyst/pkg/messages"
	"go-analyst/pkg/models"
)

const (
	defaultStatusTimeout  = 10 * time.Second
	defaultMaxUploadBytes = 32 << 20
	multipartMemory       = 8 << 20

	// uploadsDir is relative to the tools data dir.
	uploadsDir = "uploads"
)

type command struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context"`
}

type getStatus struct {
	Status models.Status `json:"status"`
}

type getTrace struct {
	RequestID string               `json:"request_id"`
	Records   []models.TraceRecord `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type testToolResponse struct {
	Tool   string            `json:"tool"`
	Params map[string]any    `json:"params"`
	Result models.StepResult `json:"result"`
}

// Store is the persisted view of finished requests.
type Store interface {
	GetResult(ctx context.Context, requestID string) (*models.Result, error)
	ListRecords(ctx context.Context, requestID string) ([]models.TraceRecord, error)
}

// Runner runs a query to completion in the caller's goroutine.
type Runner interface {
	Run(ctx context.Context, requestID string, query models.Query) *models.Result
}

// Invoker runs a single tool call.
type Invoker interface {
	Invoke(ctx context.Context, step models.Step) models.StepResult
}

type Options struct {
	Port int
	// Supervisor produces the per-request actor.
	Supervisor    actor.Producer
	Store         Store
	Admission     *Admission
	Tools         []tools.Describe
	StatusTimeout time.Duration
	// Runner serves the synchronous upload endpoint.
	Runner  Runner
	Invoker Invoker
	Config  *config.Config
	// DataDir is the tools data dir; uploads land in DataDir/uploads/<request id>.
	DataDir        string
	MaxUploadBytes int64
}

type Server struct {
	ac       *actor.RootContext
	server   *http.Server
	requests *requestsCache
	opts     Options
}

func New(ac *actor.RootContext, opts Options) *Server {
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = defaultStatusTimeout
	}
	if opts.Admission == nil {
		opts.Admission = NewAdmission(1)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		ac:       ac,
		requests: newRequestsCache(),
		opts:     opts,
	}

	r := chi.NewRouter()
	r.Use(logMiddleware())
	r.Get("/health", s.health)
	r.Get("/tools", s.listTools)
	r.Get("/config", s.showConfig)
	r.Post("/query", s.newQuery)
	r.Post("/api/", s.upload)
	r.Get("/status/{id}", s.status)
	r.Get("/plan/{id}/status", s.planStatus)
	r.Get("/result/{id}", s.result)
	r.Post("/cancel/{id}", s.cancel)
	r.Get("/trace/{id}", s.trace)
	r.Post("/test-tool/{name}", s.testTool)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprint(":", opts.Port),
		Handler: r,
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"tools": s.opts.Tools})
}

func (s *Server) newQuery(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("new request")
	cmd := command{}
	err := unmarshalRequestBody(r, &cmd)
	if err != nil {
		log.Debug().Err(err).Msg("cannot parse body")
		renderError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}
	if strings.TrimSpace(cmd.Query) == "" {
		renderError(w, r, http.StatusBadRequest, "query is required")
		return
	}
	if !s.opts.Admission.tryAcquire() {
		log.Warn().Msg("rejecting request, too many runs in flight")
		renderError(w, r, http.StatusTooManyRequests, "too many requests in flight")
		return
	}

	pid := s.ac.Spawn(actor.PropsFromProducer(s.opts.Supervisor))
	id := uuid.New()
	s.requests.add(id, pid)
	s.ac.Send(pid, messages.NewQuery{RequestID: id, Query: models.Query{Text: cmd.Query, Context: cmd.Context}})

	log.Debug().Str(logger.RequestIDField, id.String()).Msg("supervisor has been started")
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, struct {
		Id string `json:"id"`
	}{id.String()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if st, ok := s.lookup(w, r, id); ok {
		render.JSON(w, r, getStatus{st})
	}
}

func (s *Server) planStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	st, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	ps, ok := st.PlanStatus()
	if !ok {
		renderError(w, r, http.StatusNotFound, "no plan yet")
		return
	}
	render.JSON(w, r, ps)
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	kind, err := format.Parse(r.URL.Query().Get("format"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	if st.Result == nil {
		renderError(w, r, http.StatusConflict, "request still running")
		return
	}
	out, err := format.Result(st.Result, kind)
	if err != nil {
		log.Error().Str(logger.RequestIDField, id.String()).Err(err).Msg("unable to format result")
		renderError(w, r, http.StatusInternalServerError, "unable to format result")
		return
	}
	render.JSON(w, r, out)
}

// lookup asks the live supervisor for the status of id, falling back to the
// store. It renders the error itself and reports false when there is none.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id uuid.UUID) (models.Status, bool) {
	if st, ok := s.ask(id, messages.GetStatus{}); ok {
		return st, true
	}

	res, err := s.opts.Store.GetResult(r.Context(), id.String())
	if errors.Is(err, store.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, "unknown request")
		return models.Status{}, false
	}
	if err != nil {
		log.Error().Str(logger.RequestIDField, id.String()).Err(err).Msg("unable to load result")
		renderError(w, r, http.StatusInternalServerError, "unable to load result")
		return models.Status{}, false
	}
	records, err := s.opts.Store.ListRecords(r.Context(), id.String())
	if err != nil {
		log.Error().Str(logger.RequestIDField, id.String()).Err(err).Msg("unable to load trace")
		renderError(w, r, http.StatusInternalServerError, "unable to load trace")
		return models.Status{}, false
	}
	st := models.Status{RequestID: id.String(), State: res.State(), Records: records, Result: res}
	if res.Failure != nil {
		t := res.FinishedAt
		st.Errs = models.Error{ErrMessage: res.Failure.Error(), Time: &t}
	}
	return st, true
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if st, ok := s.ask(id, messages.Cancel{}); ok {
		if st.State.Terminal() {
			renderError(w, r, http.StatusConflict, "request already finished")
			return
		}
		log.Info().Str(logger.RequestIDField, id.String()).Msg("cancel requested")
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, getStatus{st})
		return
	}

	_, err := s.opts.Store.GetResult(r.Context(), id.String())
	switch {
	case err == nil:
		renderError(w, r, http.StatusConflict, "request already finished")
	case errors.Is(err, store.ErrNotFound):
		renderError(w, r, http.StatusNotFound, "unknown request")
	default:
		log.Error().Str(logger.RequestIDField, id.String()).Err(err).Msg("unable to load result")
		renderError(w, r, http.StatusInternalServerError, "unable to load result")
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		renderError(w, r, http.StatusNotFound, "no config")
		return
	}
	render.JSON(w, r, s.opts.Config.Public())
}

// upload runs a query built from a multipart form and answers once the run
// is over. Text files carry the question, data files are saved for the
// tools and listed under "files" in the query context.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runner == nil {
		renderError(w, r, http.StatusNotFound, "uploads are disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		log.Debug().Err(err).Msg("cannot parse form")
		renderError(w, r, http.StatusBadRequest, "unable to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	qctx := map[string]any{}
	if raw := r.FormValue("context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &qctx); err != nil {
			renderError(w, r, http.StatusBadRequest, "context must be a JSON object")
			return
		}
		if qctx == nil {
			qctx = map[string]any{}
		}
	}
	query := strings.TrimSpace(r.FormValue("question_text"))
	id := uuid.New()
	dir := filepath.Join(s.opts.DataDir, uploadsDir, id.String())
	files := map[string]any{}
	texts := map[string]any{}
	started := false
	defer func() {
		if !started {
			os.RemoveAll(dir)
		}
	}()

	for _, fh := range r.MultipartForm.File["files"] {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			renderError(w, r, http.StatusBadRequest, "file without a name")
			return
		}
		data, err := readPart(fh.Open)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "unable to read "+name)
			return
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".txt", ".md":
			texts[name] = string(data)
			if query == "" {
				query = strings.TrimSpace(string(data))
			}
		case ".csv", ".json", ".jsonl", ".ndjson", ".png", ".jpg", ".jpeg":
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Error().Err(err).Msg("unable to create upload dir")
				renderError(w, r, http.StatusInternalServerError, "unable to store upload")
				return
			}
			if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
				log.Error().Err(err).Msg("unable to save upload")
				renderError(w, r, http.StatusInternalServerError, "unable to store upload")
				return
			}
			files[name] = path.Join(uploadsDir, id.String(), name)
		default:
			renderError(w, r, http.StatusBadRequest, "unsupported file type: "+name)
			return
		}
	}
	if query == "" {
		renderError(w, r, http.StatusBadRequest, "no question found in uploaded files or form data")
		return
	}
	if len(files) > 0 {
		qctx["files"] = files
	}
	if len(texts) > 0 {
		qctx["texts"] = texts
	}
	if !s.opts.Admission.tryAcquire() {
		log.Warn().Msg("rejecting upload, too many runs in flight")
		renderError(w, r, http.StatusTooManyRequests, "too many requests in flight")
		return
	}

	started = true
	log.Info().Str(logger.RequestIDField, id.String()).Int("files", len(files)).Msg("running uploaded query")
	res := s.opts.Runner.Run(r.Context(), id.String(), models.Query{Text: query, Context: qctx})
	if !res.Succeeded() {
		msg := "run failed"
		if res.Failure != nil {
			msg = res.Failure.Error()
		}
		renderError(w, r, http.StatusInternalServerError, msg)
		return
	}
	render.JSON(w, r, res.Answers())
}

func readPart(open func() (multipart.File, error)) ([]byte, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// testTool invokes one tool with the JSON body as its params.
func (s *Server) testTool(w http.ResponseWriter, r *http.Request) {
	if s.opts.Invoker == nil {
		renderError(w, r, http.StatusNotFound, "tool testing is disabled")
		return
	}
	name := chi.URLParam(r, "name")
	params := map[string]any{}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "unable to read body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			renderError(w, r, http.StatusBadRequest, "params must be a JSON object")
			return
		}
	}

	res := s.opts.Invoker.Invoke(r.Context(), models.Step{ID: 1, Tool: name, Type: models.StepAction, Params: params})
	if res.Error != nil && res.Error.Kind == models.ToolNotFound {
		renderError(w, r, http.StatusNotFound, res.Error.Error())
		return
	}
	render.JSON(w, r, testToolResponse{Tool: name, Params: params, Result: res})
}

func (s *Server) trace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	records, err := s.opts.Store.ListRecords(r.Context(), id.String())
	if err != nil {
		log.Error().Str(logger.RequestIDField, id.String()).Err(err).Msg("unable to load trace")
		renderError(w, r, http.StatusInternalServerError, "unable to load trace")
		return
	}
	if len(records) == 0 {
		if _, live := s.requests.get(id); !live {
			if _, err := s.opts.Store.GetResult(r.Context(), id.String()); errors.Is(err, store.ErrNotFound) {
				renderError(w, r, http.StatusNotFound, "unknown request")
				return
			}
		}
	}
	render.JSON(w, r, getTrace{RequestID: id.String(), Records: records})
}

// ask sends msg to a live supervisor and waits for its status. It reports
// false when the request is not live anymore.
func (s *Server) ask(id uuid.UUID, msg any) (models.Status, bool) {
	pid, ok := s.requests.get(id)
	if !ok {
		return models.Status{}, false
	}
	res, err := s.ac.RequestFuture(pid, msg, s.opts.StatusTimeout).Result()
	if err != nil {
		log.Debug().Str(logger.RequestIDField, id.String()).Err(err).Msg("supervisor gone, using store")
		s.requests.remove(id)
		return models.Status{}, false
	}
	st, ok := res.(models.Status)
	if !ok {
		log.Error().Str(logger.RequestIDField, id.String()).Msgf("unknown status from actor: %T", res)
		return models.Status{}, false
	}
	return st, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		log.Debug().Msg("cannot parse id")
		renderError(w, r, http.StatusBadRequest, "unable to parse id")
		return uuid.Nil, false
	}
	return id, true
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RefererHandler("referer"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}

func unmarshalRequestBody(req *http.Request, output interface{}) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	return json.Unmarshal(body, output)
}
