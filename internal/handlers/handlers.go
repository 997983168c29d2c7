package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mossy-p/classroom-signaling/internal/logging"
	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/models"
	"github.com/mossy-p/classroom-signaling/internal/signaling"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User, passwordHash []byte) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetCredentials(ctx context.Context, username string) (*models.User, []byte, error)
	GetPasswordHash(ctx context.Context, id string) ([]byte, error)
	SetPasswordHash(ctx context.Context, id string, hash []byte) error
	GetAccessibility(ctx context.Context, id string) (models.AccessibilitySettings, error)
	SetAccessibility(ctx context.Context, id string, settings models.AccessibilitySettings) error
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)
	AssignStudents(ctx context.Context, teacherID string, studentIDs []string) error
	ListAssignedStudents(ctx context.Context, teacherID string) ([]models.User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, cs *models.ClassSession) error
	GetSession(ctx context.Context, id string) (*models.ClassSession, error)
	ListTeacherSessions(ctx context.Context, teacherID string) ([]models.ClassSession, error)
	ListUpcomingSessions(ctx context.Context, studentID string, now time.Time) ([]models.ClassSession, error)
	ActiveSession(ctx context.Context, userID, role string, now time.Time) (*models.ClassSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) (*models.ClassSession, error)
	UpdateSessionDetails(ctx context.Context, id string, req models.UpdateSessionRequest) (*models.ClassSession, error)
	DeleteSession(ctx context.Context, id string) error
	RoomPeerCount(ctx context.Context, room string) (int64, error)
}

// PeerCounter counts connected peers across every relay instance.
type PeerCounter interface {
	OnlinePeerCount(ctx context.Context) (int64, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the dependencies of the HTTP API.
type Handlers struct {
	Users    UserStore
	Sessions SessionStore
	Health   Pinger
	Presence PeerCounter
	Tokens   *middleware.TokenAuthority
	Relay    *signaling.Server
	Logger   *zap.Logger

	// AdminUsernames register with the admin role.
	AdminUsernames []string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	now        func() time.Time
}

func New(h Handlers) *Handlers {
	h.Logger = logging.OrNop(h.Logger).Named("http")
	if h.BcryptCost == 0 {
		h.BcryptCost = bcrypt.DefaultCost
	}
	h.now = time.Now
	return &h
}
