package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	kindCounter = "counter"
	kindHash    = "hash"
	kindSet     = "set"
	kindList    = "list"
)

var errMissingDatabase = errors.New("database handle is required")

// KVStore implements kvstore.Store on SQLite tables through GORM.
// Each primitive runs inside its own transaction.
type KVStore struct {
	db *gorm.DB
}

var _ kvstore.Store = (*KVStore)(nil)

// NewKVStore wraps an opened database. Use OpenSQLite to obtain one with the schema in place.
func NewKVStore(db *gorm.DB) (*KVStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &KVStore{db: db}, nil
}

// claimKind binds key to kind, failing when it already holds another kind.
func claimKind(tx *gorm.DB, key, kind string) error {
	var existing KeyKind
	err := tx.Where("kv_key = ?", key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&KeyKind{Key: key, Kind: kind}).Error
	}
	if err != nil {
		return err
	}
	if existing.Kind != kind {
		return fmt.Errorf("%w: %s holds a %s", kvstore.ErrWrongType, key, existing.Kind)
	}
	return nil
}

// checkKind reports whether key exists, failing when it holds another kind.
func checkKind(tx *gorm.DB, key, kind string) (bool, error) {
	var existing KeyKind
	err := tx.Where("kv_key = ?", key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.Kind != kind {
		return false, fmt.Errorf("%w: %s holds a %s", kvstore.ErrWrongType, key, existing.Kind)
	}
	return true, nil
}

func (s *KVStore) Incr(ctx context.Context, key string) (int64, error) {
	var counter Counter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimKind(tx, key, kindCounter); err != nil {
			return err
		}
		if err := tx.Exec(
			"INSERT INTO kv_counters (kv_key, value) VALUES (?, 1) ON CONFLICT(kv_key) DO UPDATE SET value = value + 1",
			key,
		).Error; err != nil {
			return err
		}
		return tx.Where("kv_key = ?", key).Take(&counter).Error
	})
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (s *KVStore) HGet(ctx context.Context, key, field string) (string, error) {
	db := s.db.WithContext(ctx)
	if _, err := checkKind(db, key, kindHash); err != nil {
		return "", err
	}
	var row HashField
	err := db.Where("kv_key = ? AND field = ?", key, field).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", kvstore.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *KVStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	db := s.db.WithContext(ctx)
	if _, err := checkKind(db, key, kindHash); err != nil {
		return nil, err
	}
	var rows []HashField
	if err := db.Where("kv_key = ?", key).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.Field] = row.Value
	}
	return result, nil
}

func (s *KVStore) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimKind(tx, key, kindHash); err != nil {
			return err
		}
		for field, value := range values {
			row := HashField{Key: key, Field: field, Value: value}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kv_key"}, {Name: "field"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *KVStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimKind(tx, key, kindHash); err != nil {
			return err
		}
		row := HashField{Key: key, Field: field, Value: value}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *KVStore) HKeys(ctx context.Context, key string) ([]string, error) {
	db := s.db.WithContext(ctx)
	if _, err := checkKind(db, key, kindHash); err != nil {
		return nil, err
	}
	fields := []string{}
	if err := db.Model(&HashField{}).Where("kv_key = ?", key).Pluck("field", &fields).Error; err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *KVStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	var added int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimKind(tx, key, kindSet); err != nil {
			return err
		}
		for _, member := range members {
			row := SetMember{Key: key, Member: member}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if result.Error != nil {
				return result.Error
			}
			added += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *KVStore) SMembers(ctx context.Context, key string) ([]string, error) {
	db := s.db.WithContext(ctx)
	if _, err := checkKind(db, key, kindSet); err != nil {
		return nil, err
	}
	members := []string{}
	if err := db.Model(&SetMember{}).Where("kv_key = ?", key).Pluck("member", &members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (s *KVStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	db := s.db.WithContext(ctx)
	if _, err := checkKind(db, key, kindSet); err != nil {
		return false, err
	}
	var count int64
	if err := db.Model(&SetMember{}).Where("kv_key = ? AND member = ?", key, member).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *KVStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	var length int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(values) > 0 {
			if err := claimKind(tx, key, kindList); err != nil {
				return err
			}
		}
		for _, value := range values {
			if err := tx.Create(&ListItem{Key: key, Value: value}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&ListItem{}).Where("kv_key = ?", key).Count(&length).Error
	})
	if err != nil {
		return 0, err
	}
	return length, nil
}

func (s *KVStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values := []string{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkKind(tx, key, kindList); err != nil {
			return err
		}
		var length int64
		if err := tx.Model(&ListItem{}).Where("kv_key = ?", key).Count(&length).Error; err != nil {
			return err
		}
		from, to, ok := kvstore.NormalizeRange(start, stop, length)
		if !ok {
			return nil
		}
		return tx.Model(&ListItem{}).
			Where("kv_key = ?", key).
			Order("item_id DESC").
			Offset(int(from)).
			Limit(int(to-from)).
			Pluck("value", &values).Error
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *KVStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := checkKind(tx, key, kindList)
		if err != nil || !exists {
			return err
		}
		var itemIDs []int64
		if err := tx.Model(&ListItem{}).
			Where("kv_key = ?", key).
			Order("item_id DESC").
			Pluck("item_id", &itemIDs).Error; err != nil {
			return err
		}
		from, to, ok := kvstore.NormalizeRange(start, stop, int64(len(itemIDs)))
		if !ok {
			if err := tx.Where("kv_key = ?", key).Delete(&ListItem{}).Error; err != nil {
				return err
			}
			return tx.Where("kv_key = ?", key).Delete(&KeyKind{}).Error
		}
		dropped := make([]int64, 0, len(itemIDs)-int(to-from))
		dropped = append(dropped, itemIDs[:from]...)
		dropped = append(dropped, itemIDs[to:]...)
		if len(dropped) == 0 {
			return nil
		}
		return tx.Where("item_id IN ?", dropped).Delete(&ListItem{}).Error
	})
}

func (s *KVStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&Counter{}, &HashField{}, &SetMember{}, &ListItem{}, &KeyKind{}} {
			if err := tx.Where("kv_key IN ?", keys).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *KVStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *KVStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
