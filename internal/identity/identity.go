// Package identity assigns each browser a stable anonymous learner id,
// carried in a cookie and registered in the user store on first contact.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/lessonloop/internal/domain"
	"github.com/google/uuid"
)

const (
	CookieName   = "lessonloop_anon_id"
	cookieMaxAge = 90 * 24 * time.Hour

	// touchInterval throttles last-seen writes for returning learners.
	touchInterval = 5 * time.Minute
)

var learnerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Learner is the identity attached to a request.
type Learner struct {
	ID       string
	Username string
}

type learnerKey struct{}

// UserStore is the persistence the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// FromContext returns the learner the middleware attached.
func FromContext(ctx context.Context) (Learner, bool) {
	l, ok := ctx.Value(learnerKey{}).(Learner)
	return l, ok
}

// UserIDFromContext returns the learner id, or "" outside the middleware.
func UserIDFromContext(ctx context.Context) string {
	l, _ := FromContext(ctx)
	return l.ID
}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, learnerKey{}, Learner{ID: userID, Username: usernameFor(userID)})
}

func newLearnerID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validLearnerID(id string) bool {
	return learnerIDPattern.MatchString(id)
}

func usernameFor(userID string) string {
	if len(userID) > 13 {
		return "learner-" + userID[len(userID)-8:]
	}
	return "learner"
}

// register creates the learner on first contact and refreshes last-seen
// at most once per touchInterval afterwards.
func register(ctx context.Context, users UserStore, userID string, now time.Time) error {
	user, err := users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return users.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   usernameFor(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if now.Sub(user.LastSeenAt) < touchInterval {
		return nil
	}
	return users.UpdateLastSeen(ctx, userID, now)
}

func writeCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// learnerID reads the cookie, minting a fresh id when it is absent or
// malformed. The cookie is rewritten either way to slide its expiry.
func learnerID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	var id string
	if c, err := r.Cookie(CookieName); err == nil && validLearnerID(c.Value) {
		id = c.Value
	} else {
		id = newLearnerID()
	}
	writeCookie(w, id, !isDev)
	return id
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Middleware attaches the anonymous learner to every request.
func Middleware(users UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := learnerID(w, r, isDev)
			if err := register(r.Context(), users, id, time.Now()); err != nil {
				writeError(w, "failed to initialize learner")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
