package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/scheduler"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/triage"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// StatsResponse represents the database statistics.
type StatsResponse struct {
	Projects       int64 `json:"projects"`
	Contacts       int64 `json:"contacts"`
	Messages       int64 `json:"messages"`
	Unassigned     int64 `json:"unassigned"`
	Snoozed        int64 `json:"snoozed"`
	IgnoredSenders int64 `json:"ignored_senders"`
	DatabaseSize   int64 `json:"database_size_bytes"`
}

// ProjectInfo represents a project.
type ProjectInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ProjectDetail is a project with its messages.
type ProjectDetail struct {
	ProjectInfo
	Messages []MessageSummary `json:"messages"`
}

// MessageSummary represents a message in list responses.
type MessageSummary struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	ExternalID string `json:"external_id"`
	Sender     string `json:"sender"`
	ContactID  *int64 `json:"contact_id,omitempty"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	RemindAt   string `json:"remind_at,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// MessageDetail represents a full message response.
type MessageDetail struct {
	MessageSummary
	Project   *ProjectInfo `json:"project,omitempty"`
	HasRaw    bool         `json:"has_raw"`
	CreatedAt string       `json:"created_at"`
}

// ContentResponse is a message body for display.
type ContentResponse struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"` // "html" or "text"
}

// ContactInfo represents a contact.
type ContactInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// ContactProjectGroup lists a contact's messages under one project.
type ContactProjectGroup struct {
	Project  *ProjectInfo     `json:"project"` // null for unlinked messages
	Messages []MessageSummary `json:"messages"`
}

// ContactDetail is a contact with messages grouped by project.
type ContactDetail struct {
	ContactInfo
	Projects []ContactProjectGroup `json:"projects"`
}

// SourceStatsResponse reports one source's part of a fetch.
type SourceStatsResponse struct {
	Source  string `json:"source"`
	Fetched int    `json:"fetched"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Error   string `json:"error,omitempty"`
}

// FetchResponse is the result of POST /fetch.
type FetchResponse struct {
	Created []MessageSummary      `json:"created"`
	Sources []SourceStatsResponse `json:"sources"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool                  `json:"running"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", what+" ID must be a positive number")
		return 0, false
	}
	return id, true
}

// writeStoreError maps store sentinel errors to HTTP responses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project_not_found", "Project not found")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, store.ErrProjectExists):
		writeError(w, http.StatusConflict, "project_exists", err.Error())
	case errors.Is(err, store.ErrEmptyName):
		writeError(w, http.StatusBadRequest, "invalid_name", "Project name cannot be empty")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toProjectInfo(p *store.Project) *ProjectInfo {
	if p == nil {
		return nil
	}
	return &ProjectInfo{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description.String,
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

func toMessageSummary(m *store.Message) MessageSummary {
	sum := MessageSummary{
		ID:         m.ID,
		Type:       m.Type,
		ExternalID: m.ExternalID,
		Sender:     m.Sender,
		Subject:    m.Subject,
		Snippet:    m.Snippet,
		Timestamp:  m.Timestamp,
		Status:     m.Status,
		UpdatedAt:  formatTime(m.UpdatedAt),
	}
	if m.ContactID.Valid {
		id := m.ContactID.Int64
		sum.ContactID = &id
	}
	if m.RemindAt.Valid {
		sum.RemindAt = formatTime(m.RemindAt.Time)
	}
	return sum
}

func toMessageSummaries(msgs []*store.Message) []MessageSummary {
	out := make([]MessageSummary, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageSummary(m)
	}
	return out
}

func toContactInfo(c *store.Contact) ContactInfo {
	return ContactInfo{
		ID:    c.ID,
		Name:  c.Name.String,
		Email: c.Email.String,
		Phone: c.Phone.String,
		Notes: c.Notes.String,
	}
}

// handleStats returns database statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.writeStoreError(w, err, "retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Projects:       stats.ProjectCount,
		Contacts:       stats.ContactCount,
		Messages:       stats.MessageCount,
		Unassigned:     stats.UnassignedCount,
		Snoozed:        stats.SnoozedCount,
		IgnoredSenders: stats.IgnoredSenders,
		DatabaseSize:   stats.DatabaseSize,
	})
}

// handleListProjects returns every project.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		s.writeStoreError(w, err, "list projects")
		return
	}
	out := make([]*ProjectInfo, len(projects))
	for i, p := range projects {
		out[i] = toProjectInfo(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleCreateProject creates a project.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	p, err := s.store.CreateProject(req.Name, req.Description)
	if err != nil {
		s.writeStoreError(w, err, "create project")
		return
	}
	s.logger.Info("project created via API", "project", p.Name)
	writeJSON(w, http.StatusCreated, toProjectInfo(p))
}

// handleGetProject returns a project and its messages.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Project")
	if !ok {
		return
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve project")
		return
	}
	msgs, err := s.store.MessagesByProject(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve project messages")
		return
	}
	writeJSON(w, http.StatusOK, ProjectDetail{
		ProjectInfo: *toProjectInfo(p),
		Messages:    toMessageSummaries(msgs),
	})
}

var validStatuses = map[string]bool{
	store.StatusUnassigned: true,
	store.StatusAssigned:   true,
	store.StatusSnoozed:    true,
	store.StatusIgnored:    true,
}

// handleListMessages returns messages, optionally filtered by status.
// status may be repeated or comma separated.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	for _, v := range r.URL.Query()["status"] {
		for _, st := range strings.Split(v, ",") {
			st = strings.TrimSpace(st)
			if st == "" {
				continue
			}
			if !validStatuses[st] {
				writeError(w, http.StatusBadRequest, "invalid_status", "Unknown status "+strconv.Quote(st))
				return
			}
			statuses = append(statuses, st)
		}
	}

	msgs, err := s.store.ListMessages(statuses...)
	if err != nil {
		s.writeStoreError(w, err, "retrieve messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(msgs),
		"messages": toMessageSummaries(msgs),
	})
}

// handleGetMessage returns a single message by ID.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	msg, err := s.store.GetMessage(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve message")
		return
	}
	s.writeMessageDetail(w, http.StatusOK, msg)
}

func (s *Server) writeMessageDetail(w http.ResponseWriter, status int, msg *store.Message) {
	project, err := s.store.ProjectForMessage(msg.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeStoreError(w, err, "retrieve message project")
		return
	}
	writeJSON(w, status, MessageDetail{
		MessageSummary: toMessageSummary(msg),
		Project:        toProjectInfo(project),
		HasRaw:         msg.RawPath.Valid && msg.RawPath.String != "",
		CreatedAt:      formatTime(msg.CreatedAt),
	})
}

// handleMessageContent returns the full message body, preferring HTML
// from the archived raw message and falling back to the stored text.
func (s *Server) handleMessageContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	msg, err := s.store.GetMessage(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve message")
		return
	}

	resp := ContentResponse{ID: msg.ID, Content: msg.Content.String, ContentType: "text"}
	if msg.RawPath.Valid && msg.RawPath.String != "" {
		raw, err := os.ReadFile(msg.RawPath.String)
		if err != nil {
			s.logger.Warn("raw message unreadable, using stored content", "id", id, "path", msg.RawPath.String, "error", err)
		} else if content, kind := mime.Content(raw); content != "" {
			resp.Content, resp.ContentType = content, kind
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignRequest struct {
	ProjectID int64 `json:"project_id"`
}

// handleAssign assigns a message to an existing project.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	var req assignRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.ProjectID <= 0 {
		writeError(w, http.StatusBadRequest, "missing_project", "project_id is required")
		return
	}
	if err := s.store.Assign(id, req.ProjectID); err != nil {
		s.writeStoreError(w, err, "assign message")
		return
	}
	s.respondMessage(w, http.StatusOK, id)
}

// handleCreateProjectForMessage creates a project and assigns the message to it.
func (s *Server) handleCreateProjectForMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	var req createProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if _, err := s.store.CreateProjectAndAssign(req.Name, req.Description, id); err != nil {
		s.writeStoreError(w, err, "create project for message")
		return
	}
	s.respondMessage(w, http.StatusCreated, id)
}

// maxSnoozeDays bounds snooze requests to about ten years.
const maxSnoozeDays = 3650

type snoozeRequest struct {
	Days     int    `json:"days"`
	RemindAt string `json:"remind_at"` // RFC 3339
}

// handleSnooze snoozes a message for a number of days or until a time.
func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	var req snoozeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	var remindAt time.Time
	switch {
	case req.RemindAt != "":
		t, err := time.Parse(time.RFC3339, req.RemindAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_remind_at", "remind_at must be an RFC 3339 time")
			return
		}
		remindAt = t
	case req.Days < 0 || req.Days > maxSnoozeDays:
		writeError(w, http.StatusBadRequest, "invalid_days",
			fmt.Sprintf("days must be between 1 and %d", maxSnoozeDays))
		return
	case req.Days > 0:
		remindAt = s.now().Add(time.Duration(req.Days) * 24 * time.Hour)
	default:
		writeError(w, http.StatusBadRequest, "missing_snooze", "days or remind_at is required")
		return
	}

	if err := s.store.Snooze(id, remindAt); err != nil {
		s.writeStoreError(w, err, "snooze message")
		return
	}
	s.respondMessage(w, http.StatusOK, id)
}

// handleIgnore ignores a message and adds its sender to the ignore list.
func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Message")
	if !ok {
		return
	}
	msg, err := s.store.GetMessage(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve message")
		return
	}
	if _, email := mime.SplitAddress(msg.Sender); email != "" {
		if err := s.store.AddIgnoredSender(email); err != nil {
			s.writeStoreError(w, err, "ignore sender")
			return
		}
	}
	if err := s.store.Ignore(id); err != nil {
		s.writeStoreError(w, err, "ignore message")
		return
	}
	s.respondMessage(w, http.StatusOK, id)
}

func (s *Server) respondMessage(w http.ResponseWriter, status int, id int64) {
	msg, err := s.store.GetMessage(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve message")
		return
	}
	s.writeMessageDetail(w, status, msg)
}

// handleReminders returns snoozed messages that are due.
func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.DueReminders(s.now())
	if err != nil {
		s.writeStoreError(w, err, "retrieve reminders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageSummaries(msgs)})
}

// handleListContacts returns every contact.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts()
	if err != nil {
		s.writeStoreError(w, err, "list contacts")
		return
	}
	out := make([]ContactInfo, len(contacts))
	for i, c := range contacts {
		out[i] = toContactInfo(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": out})
}

// handleGetContact returns a contact with messages grouped by project.
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Contact")
	if !ok {
		return
	}
	c, err := s.store.GetContact(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve contact")
		return
	}
	groups, err := s.store.ContactMessagesByProject(id)
	if err != nil {
		s.writeStoreError(w, err, "retrieve contact messages")
		return
	}
	detail := ContactDetail{ContactInfo: toContactInfo(c), Projects: make([]ContactProjectGroup, len(groups))}
	for i, g := range groups {
		detail.Projects[i] = ContactProjectGroup{
			Project:  toProjectInfo(g.Project),
			Messages: toMessageSummaries(g.Messages),
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleFetch fetches new mail from every available source.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.fetch == nil {
		writeError(w, http.StatusServiceUnavailable, "fetch_unavailable", "Fetching is not enabled")
		return
	}
	summary, err := s.fetch(r.Context())
	if err != nil {
		s.logger.Error("fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetch_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toFetchResponse(summary))
}

func toFetchResponse(sum *triage.FetchSummary) FetchResponse {
	resp := FetchResponse{
		Created: toMessageSummaries(sum.Created),
		Sources: make([]SourceStatsResponse, len(sum.Sources)),
	}
	for i, st := range sum.Sources {
		resp.Sources[i] = SourceStatsResponse{
			Source:  st.Source,
			Fetched: st.Fetched,
			Created: st.Created,
			Updated: st.Updated,
			Skipped: st.Skipped,
			Errors:  st.Errors,
		}
		if st.Err != nil {
			resp.Sources[i].Error = st.Err.Error()
		}
	}
	return resp
}

// handleListSources lists the mail sources and whether each is configured.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	var infos []source.Info
	if s.sources != nil {
		infos = s.sources()
	}
	if infos == nil {
		infos = []source.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": infos})
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := SchedulerStatusResponse{Jobs: []scheduler.JobStatus{}}
	if s.scheduler != nil {
		resp.Running = s.scheduler.IsRunning()
		if jobs := s.scheduler.Status(); jobs != nil {
			resp.Jobs = jobs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
