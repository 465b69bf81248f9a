package offline

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/cache"
	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
	"github.com/priyanshuchawda/farmer-automation-sub001/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errInvalidInput = errors.New("invalid input")

// maxBody caps request bodies.
const maxBody = 1 << 20

// NewHandler initializes a new offline API handler
func NewHandler(s *service) *chi.Mux {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Get("/weather/{location}", weatherHandler(s))
		r.Get("/prices", priceHandler(s))
		r.Get("/calendar/{user}/{date}", calendarHandler(s))
		r.Put("/calendar/{user}/{date}", saveCalendarHandler(s))
	})

	r.Post("/actions", submitHandler(s))
	r.Route("/outbox", func(r chi.Router) {
		r.Get("/", pendingHandler(s))
		r.Post("/", enqueueHandler(s))
		r.Post("/replay", replayHandler(s))
		r.Post("/{id}/synced", markSyncedHandler(s))
	})

	r.Get("/status", statusHandler(s))
	r.Post("/maintenance/sweep", sweepHandler(s))
	r.Delete("/cache/{domain}", clearHandler(s))

	return r
}

type lookupResponse struct {
	*Lookup
	Message string `json:"message,omitempty"`
}

type actionRequest struct {
	ActionType string              `json:"action_type"`
	Data       jsoniter.RawMessage `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func weatherHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		location := strings.TrimSpace(chi.URLParam(r, "location"))
		if location == "" {
			s.fail(w, r, errors.Wrap(errInvalidInput, "location is required"))
			return
		}
		lk, err := s.Weather(r.Context(), location)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondLookup(w, r, lk)
	}
}

func priceHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key := cache.PriceKey{
			Commodity: strings.TrimSpace(q.Get("commodity")),
			Market:    strings.TrimSpace(q.Get("market")),
			State:     strings.TrimSpace(q.Get("state")),
		}
		if key.Commodity == "" || key.Market == "" || key.State == "" {
			s.fail(w, r, errors.Wrap(errInvalidInput, "commodity, market and state are required"))
			return
		}
		lk, err := s.Price(r.Context(), key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondLookup(w, r, lk)
	}
}

func calendarHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, date, err := calendarParams(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		lk, err := s.Calendar(r.Context(), userID, date)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondLookup(w, r, lk)
	}
}

func saveCalendarHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, date, err := calendarParams(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var events cache.Events
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&events); err != nil {
			s.fail(w, r, errors.Wrapf(errInvalidInput, "decoding events: %v", err))
			return
		}
		if err := s.SaveCalendar(r.Context(), userID, date, events); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func calendarParams(r *http.Request) (int64, time.Time, error) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user"), 10, 64)
	if err != nil {
		return 0, time.Time{}, errors.Wrapf(errInvalidInput, "parsing user id: %v", err)
	}
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		return 0, time.Time{}, errors.Wrapf(errInvalidInput, "parsing date: %v", err)
	}
	return userID, date, nil
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, error) {
	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		return req, errors.Wrapf(errInvalidInput, "decoding action: %v", err)
	}
	if strings.TrimSpace(req.ActionType) == "" {
		return req, errors.Wrap(errInvalidInput, "action_type is required")
	}
	return req, nil
}

func submitHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAction(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		res, err := s.Submit(r.Context(), req.ActionType, req.Data)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !res.Queued {
			respond(w, http.StatusOK, res)
			return
		}
		respond(w, http.StatusAccepted, struct {
			SubmitResult
			Message string `json:"message"`
		}{res, localize(resolveTag(r), msgActionQueued)})
	}
}

func enqueueHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAction(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		id, err := s.Enqueue(r.Context(), req.ActionType, req.Data)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusAccepted, SubmitResult{Queued: true, ID: id})
	}
}

func pendingHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Pending(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, entries)
	}
}

func markSyncedHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			s.fail(w, r, errors.Wrapf(errInvalidInput, "parsing id: %v", err))
			return
		}
		if err := s.MarkSynced(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func replayHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Replay(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, res)
	}
}

func statusHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Status(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, st)
	}
}

func sweepHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Sweep(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, res)
	}
}

func clearHandler(s *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			n   int64
			err error
		)
		switch d := cache.Domain(chi.URLParam(r, "domain")); {
		case d == cache.Weather && q.Get("location") != "":
			var removed bool
			removed, err = s.ClearWeather(r.Context(), q.Get("location"))
			if removed {
				n = 1
			}
		case d == cache.MarketPrice && q.Get("commodity") != "" && q.Get("market") != "" && q.Get("state") != "":
			var removed bool
			removed, err = s.ClearPrice(r.Context(), cache.PriceKey{Commodity: q.Get("commodity"), Market: q.Get("market"), State: q.Get("state")})
			if removed {
				n = 1
			}
		case d == cache.Weather || d == cache.MarketPrice || d == cache.Calendar:
			n, err = s.ClearDomain(r.Context(), d)
		default:
			err = errors.Wrapf(errInvalidInput, "unknown cache domain %q", d)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

func respondLookup(w http.ResponseWriter, r *http.Request, lk *Lookup) {
	resp := lookupResponse{Lookup: lk}
	if lk.Offline {
		resp.Message = localize(resolveTag(r), msgOfflineMode)
	}
	respond(w, http.StatusOK, resp)
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps err onto a status code and a message in the caller's language.
// Storage and driver details stay in the log.
func (s *service) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, key := classify(err)
	if status >= http.StatusInternalServerError {
		level.Error(s.l).Log("msg", "request failed", "path", r.URL.Path, "err", err)
	} else {
		level.Info(s.l).Log("msg", "request rejected", "path", r.URL.Path, "err", err)
	}
	respond(w, status, errorResponse{Error: string(key), Message: localize(resolveTag(r), key)})
}

func classify(err error) (int, messageKey) {
	switch {
	case errors.Is(err, errInvalidInput):
		return http.StatusBadRequest, msgInvalidInput
	case errors.Is(err, outbox.ErrEntryNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, outbox.ErrAppendFailed):
		return http.StatusInternalServerError, msgActionLost
	case errors.Is(err, ErrNoData):
		return http.StatusServiceUnavailable, msgConnectivityRequired
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, msgFeatureUnavailable
	}
	return http.StatusInternalServerError, msgGenericError
}
