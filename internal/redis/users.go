package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/classroom-signaling/internal/models"
)

// userRecord is the stored form of a user, including its password hash.
type userRecord struct {
	models.User
	PasswordHash []byte `json:"passwordHash"`
}

func userKey(id string) string { return "user:" + id }

func usernameKey(name string) string { return "user:name:" + strings.ToLower(name) }

func emailKey(email string) string { return "user:email:" + strings.ToLower(email) }

func roleUsersKey(role string) string { return "users:role:" + role }

func accessibilityKey(id string) string { return "user:" + id + ":accessibility" }

func teacherStudentsKey(id string) string { return "teacher:" + id + ":students" }

// CreateUser stores a new account. Usernames and emails are unique,
// case-insensitively. ID and CreatedAt are assigned here.
func (s *Store) CreateUser(ctx context.Context, u *models.User, passwordHash []byte) error {
	u.ID = uuid.New().String()
	u.CreatedAt = time.Now().UTC()

	ok, err := s.client.SetNX(ctx, usernameKey(u.Username), u.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	if !ok {
		return ErrUsernameTaken
	}

	ok, err = s.client.SetNX(ctx, emailKey(u.Email), u.ID, 0).Result()
	if err != nil || !ok {
		s.client.Del(ctx, usernameKey(u.Username))
		if err != nil {
			return fmt.Errorf("failed to reserve email: %w", err)
		}
		return ErrEmailTaken
	}

	data, err := json.Marshal(userRecord{User: *u, PasswordHash: passwordHash})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(u.ID), data, 0)
		pipe.SAdd(ctx, roleUsersKey(u.Role), u.ID)
		return nil
	})
	if err != nil {
		s.client.Del(ctx, usernameKey(u.Username), emailKey(u.Email))
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	rec, err := s.getUserRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// GetCredentials looks a user up by username and returns its password hash.
func (s *Store) GetCredentials(ctx context.Context, username string) (*models.User, []byte, error) {
	id, err := s.client.Get(ctx, usernameKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.getUserRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &rec.User, rec.PasswordHash, nil
}

// GetPasswordHash returns the stored password hash of a user.
func (s *Store) GetPasswordHash(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.getUserRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.PasswordHash, nil
}

// SetPasswordHash replaces the password hash of a user.
func (s *Store) SetPasswordHash(ctx context.Context, id string, hash []byte) error {
	key := userKey(id)
	txf := func(tx *redis.Tx) error {
		rec, err := getUserRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		rec.PasswordHash = hash
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxConflict
}

// GetAccessibility returns the saved settings of a user, falling back to
// the defaults for anything never saved.
func (s *Store) GetAccessibility(ctx context.Context, id string) (models.AccessibilitySettings, error) {
	settings := models.DefaultAccessibility()
	if err := s.client.HGetAll(ctx, accessibilityKey(id)).Scan(&settings); err != nil {
		return models.AccessibilitySettings{}, fmt.Errorf("failed to load accessibility settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SetAccessibility(ctx context.Context, id string, settings models.AccessibilitySettings) error {
	if err := s.client.HSet(ctx, accessibilityKey(id), settings).Err(); err != nil {
		return fmt.Errorf("failed to store accessibility settings: %w", err)
	}
	return nil
}

// ListUsersByRole returns every user with role, ordered by username.
func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	return s.usersIn(ctx, roleUsersKey(role))
}

// AssignStudents replaces the students assigned to a teacher. The teacher
// and every student must exist with the matching role.
func (s *Store) AssignStudents(ctx context.Context, teacherID string, studentIDs []string) error {
	if err := s.expectRole(ctx, teacherID, models.RoleTeacher); err != nil {
		return err
	}
	for _, id := range studentIDs {
		if err := s.expectRole(ctx, id, models.RoleStudent); err != nil {
			return fmt.Errorf("student %s: %w", id, err)
		}
	}

	key := teacherStudentsKey(teacherID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(studentIDs) > 0 {
			members := make([]interface{}, len(studentIDs))
			for i, id := range studentIDs {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to assign students: %w", err)
	}
	return nil
}

// ListAssignedStudents returns the students assigned to a teacher, ordered
// by username.
func (s *Store) ListAssignedStudents(ctx context.Context, teacherID string) ([]models.User, error) {
	if err := s.expectRole(ctx, teacherID, models.RoleTeacher); err != nil {
		return nil, err
	}
	return s.usersIn(ctx, teacherStudentsKey(teacherID))
}

func (s *Store) expectRole(ctx context.Context, id, role string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Role != role {
		return ErrWrongRole
	}
	return nil
}

func (s *Store) usersIn(ctx context.Context, setKey string) ([]models.User, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec userRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse user %s: %w", ids[i], err)
		}
		users = append(users, rec.User)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) getUserRecord(ctx context.Context, id string) (*userRecord, error) {
	return getUserRecord(ctx, s.client, id)
}

func getUserRecord(ctx context.Context, c getter, id string) (*userRecord, error) {
	data, err := c.Get(ctx, userKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec userRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}
	return &rec, nil
}
