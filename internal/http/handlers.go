package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/export"
	"fintrack/internal/filter"
	"fintrack/internal/log"
	"fintrack/internal/records"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

const defaultRecent = 10

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, status int, acc core.Account) {
	token, expires, err := s.tokens.Issue(acc.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, status, authResponse{Token: token, ExpiresAt: expires, Account: toAccountDTO(acc)})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := sanitizeInput(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and password are required", "form")
		return
	}

	acc, err := s.accounts.Authenticate(r.Context(), email, req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.accounts.Start(r.Context(), s.sessions(acc.ID), acc); err != nil {
		respondError(w, r, err)
		return
	}
	s.issueToken(w, r, http.StatusOK, acc)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc, err := s.accounts.Register(r.Context(), services.SignUpInput{
		FullName:        sanitizeInput(req.FullName),
		Username:        sanitizeInput(req.Username),
		Email:           sanitizeInput(req.Email),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.accounts.Start(r.Context(), s.sessions(acc.ID), acc); err != nil {
		respondError(w, r, err)
		return
	}
	s.issueToken(w, r, http.StatusCreated, acc)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.accounts.SignOut(r.Context(), sess); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	acc, err := s.accounts.Profile(r.Context(), sess)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	recent := defaultRecent
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recent must be an integer", "recent")
			return
		}
		recent = n
	}

	d, err := s.txns.Dashboard(r.Context(), sess, recent)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// parseFilter reads category, type, date and q from the query string.
// "all" and empty values are neutral.
func parseFilter(r *http.Request) (filter.Spec, string, error) {
	q := r.URL.Query()
	var spec filter.Spec

	if c := sanitizeInput(q.Get("category")); c != "" && !strings.EqualFold(c, "all") {
		spec.Category = core.CanonicalCategory(c)
	}
	if t := sanitizeInput(q.Get("type")); t != "" && !strings.EqualFold(t, "all") {
		typ, err := core.ParseType(t)
		if err != nil {
			return filter.Spec{}, "type", err
		}
		spec.Type = typ
	}
	bucket, err := filter.ParseBucket(q.Get("date"))
	if err != nil {
		return filter.Spec{}, "date", err
	}
	spec.Bucket = bucket
	spec.Query = sanitizeInput(q.Get("q"))
	return spec, "", nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	spec, field, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), field)
		return
	}
	h, err := s.txns.History(r.Context(), sess, spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyDTO{
		Transactions: toTransactionDTOs(h.Transactions),
		Summary:      toSummaryDTO(h.Summary),
		Matched:      len(h.Transactions),
		Total:        h.Total,
		Stale:        h.Stale,
	})
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req addRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := services.NewTransaction{
		Title:    sanitizeInput(req.Title),
		Amount:   strings.TrimSpace(req.Amount.String()),
		Type:     sanitizeInput(req.Type),
		Category: sanitizeInput(req.Category),
		Note:     sanitizeInput(req.Note),
	}
	if d := strings.TrimSpace(req.Date); d != "" {
		at, err := records.ParseTimestamp(d, s.loc)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "date is not a recognised timestamp", "date")
			return
		}
		in.Date = at
	}

	res, err := s.txns.Add(r.Context(), sess, in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	userID, _ := sess.UserID(r.Context())
	t := res.Transaction
	log.NewStructuredLogger(log.FromContext(r.Context())).LogTransactionAdded(r.Context(),
		userID, t.Title, t.Amount.Cents, string(t.Type), string(t.Category), res.Queued)

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, addResponse{
		Transaction: toTransactionDTO(t),
		Queued:      res.Queued,
		PendingID:   res.PendingID,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	snap, err := s.txns.Refresh(r.Context(), sess)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Count:     len(snap.Transactions),
		Issues:    len(snap.Issues),
		Stale:     snap.Stale,
		FetchedAt: snap.FetchedAt,
	})
}

// handleExport streams the filtered history as an XLSX workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	spec, field, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), field)
		return
	}
	h, err := s.txns.History(r.Context(), sess, spec)
	if err != nil {
		respondError(w, r, err)
		return
	}

	name := "fintrack-" + time.Now().In(s.loc).Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", export.XLSXContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := export.WriteXLSX(w, h.Transactions, s.loc); err != nil {
		// headers are gone; the client sees a truncated body
		log.FromContext(r.Context()).ErrorContext(r.Context(), "XLSX export failed", log.FieldError, err)
	}
}
