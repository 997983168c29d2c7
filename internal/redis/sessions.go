package redis

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/classroom-signaling/internal/models"
)

const (
	roomCodeLength = 8
	roomCodePrefix = "class-"
	codeChars      = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxTxRetries   = 5
)

var errTxConflict = errors.New("class session changed concurrently")

func classKey(id string) string { return "class:" + id }

func teacherClassesKey(id string) string { return "teacher:" + id + ":classes" }

func studentClassesKey(id string) string { return "student:" + id + ":classes" }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// CreateSession stores a new class session. ID, RoomID, Status and CreatedAt
// are assigned here.
func (s *Store) CreateSession(ctx context.Context, cs *models.ClassSession) error {
	code, err := generateRoomCode()
	if err != nil {
		return err
	}
	cs.ID = uuid.New().String()
	cs.RoomID = roomCodePrefix + code
	cs.Status = models.SessionScheduled
	cs.CreatedAt = time.Now().UTC()
	if cs.StudentIDs == nil {
		cs.StudentIDs = []string{}
	}

	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to marshal class session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, classKey(cs.ID), data, 0)
		pipe.SAdd(ctx, teacherClassesKey(cs.TeacherID), cs.ID)
		for _, studentID := range cs.StudentIDs {
			pipe.SAdd(ctx, studentClassesKey(studentID), cs.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store class session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ClassSession, error) {
	return getSession(ctx, s.client, id)
}

// ListTeacherSessions returns the sessions a teacher created, latest start first.
func (s *Store) ListTeacherSessions(ctx context.Context, teacherID string) ([]models.ClassSession, error) {
	sessions, err := s.sessionsIn(ctx, teacherClassesKey(teacherID))
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ScheduledStart.After(sessions[j].ScheduledStart)
	})
	return sessions, nil
}

// ListUpcomingSessions returns a student's sessions starting after now,
// soonest first.
func (s *Store) ListUpcomingSessions(ctx context.Context, studentID string, now time.Time) ([]models.ClassSession, error) {
	sessions, err := s.sessionsIn(ctx, studentClassesKey(studentID))
	if err != nil {
		return nil, err
	}
	upcoming := sessions[:0]
	for _, cs := range sessions {
		if cs.ScheduledStart.After(now) {
			upcoming = append(upcoming, cs)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledStart.Before(upcoming[j].ScheduledStart)
	})
	return upcoming, nil
}

// ActiveSession returns the first active session of the user whose scheduled
// window contains now.
func (s *Store) ActiveSession(ctx context.Context, userID, role string, now time.Time) (*models.ClassSession, error) {
	key := studentClassesKey(userID)
	if role == models.RoleTeacher {
		key = teacherClassesKey(userID)
	}
	sessions, err := s.sessionsIn(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		cs := &sessions[i]
		if cs.Status == models.SessionActive && !now.Before(cs.ScheduledStart) && !now.After(cs.ScheduledEnd) {
			return cs, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateSessionStatus sets the status of a session, retrying when another
// writer modifies it concurrently.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) (*models.ClassSession, error) {
	return s.updateSession(ctx, id, func(cs *models.ClassSession) error {
		cs.Status = status
		return nil
	})
}

// UpdateSessionDetails replaces the title, description, schedule and, when
// studentIDs is non-nil, the participants of a session. Completed sessions
// are refused with ErrSessionCompleted.
func (s *Store) UpdateSessionDetails(ctx context.Context, id string, req models.UpdateSessionRequest) (*models.ClassSession, error) {
	return s.updateSession(ctx, id, func(cs *models.ClassSession) error {
		if cs.Status == models.SessionCompleted {
			return ErrSessionCompleted
		}
		cs.Title = req.Title
		cs.Description = req.Description
		cs.ScheduledStart = req.ScheduledStart
		cs.ScheduledEnd = req.ScheduledEnd
		if req.StudentIDs != nil {
			cs.StudentIDs = req.StudentIDs
		}
		return nil
	})
}

// updateSession applies mutate to the stored session under WATCH and keeps
// the student indexes in step with the participant list.
func (s *Store) updateSession(ctx context.Context, id string, mutate func(*models.ClassSession) error) (*models.ClassSession, error) {
	key := classKey(id)
	var updated *models.ClassSession

	txf := func(tx *redis.Tx) error {
		cs, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		before := cs.StudentIDs
		if err := mutate(cs); err != nil {
			return err
		}
		if cs.StudentIDs == nil {
			cs.StudentIDs = []string{}
		}
		data, err := json.Marshal(cs)
		if err != nil {
			return fmt.Errorf("failed to marshal class session: %w", err)
		}
		removed, added := diffIDs(before, cs.StudentIDs)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			for _, studentID := range removed {
				pipe.SRem(ctx, studentClassesKey(studentID), id)
			}
			for _, studentID := range added {
				pipe.SAdd(ctx, studentClassesKey(studentID), id)
			}
			return nil
		})
		if err == nil {
			updated = cs
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, errTxConflict
}

// diffIDs returns the ids only in before and the ids only in after.
func diffIDs(before, after []string) (removed, added []string) {
	inAfter := make(map[string]struct{}, len(after))
	for _, id := range after {
		inAfter[id] = struct{}{}
	}
	inBefore := make(map[string]struct{}, len(before))
	for _, id := range before {
		inBefore[id] = struct{}{}
		if _, ok := inAfter[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range after {
		if _, ok := inBefore[id]; !ok {
			added = append(added, id)
		}
	}
	return removed, added
}

// DeleteSession removes a session and its index entries.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	cs, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, classKey(id))
		pipe.SRem(ctx, teacherClassesKey(cs.TeacherID), id)
		for _, studentID := range cs.StudentIDs {
			pipe.SRem(ctx, studentClassesKey(studentID), id)
		}
		pipe.Del(ctx, roomPeersKey(cs.RoomID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete class session: %w", err)
	}
	return nil
}

func (s *Store) sessionsIn(ctx context.Context, setKey string) ([]models.ClassSession, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]models.ClassSession, 0, len(ids))
	if len(ids) == 0 {
		return sessions, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = classKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry outlived its session.
			continue
		}
		var cs models.ClassSession
		if err := json.Unmarshal([]byte(str), &cs); err != nil {
			return nil, fmt.Errorf("failed to parse class session %s: %w", ids[i], err)
		}
		sessions = append(sessions, cs)
	}
	return sessions, nil
}

func getSession(ctx context.Context, c getter, id string) (*models.ClassSession, error) {
	data, err := c.Get(ctx, classKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cs models.ClassSession
	if err := json.Unmarshal([]byte(data), &cs); err != nil {
		return nil, fmt.Errorf("failed to parse class session: %w", err)
	}
	return &cs, nil
}

// generateRoomCode generates a random room code
func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	limit := big.NewInt(int64(len(codeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}
