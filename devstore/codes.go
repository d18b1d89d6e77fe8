package devstore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MKNTW/accountflow"
)

const (
	codeKeyPrefix       = "afc"
	codeRecordVersionV1 = 1
)

var errCodeRedisUnavailable = errors.New("code store redis unavailable")

// codeRecord is the binary payload stored per outstanding one-time code.
// Only the code's hash is stored; the plaintext exists in the email alone.
type codeRecord struct {
	Attempts  uint16
	ExpiresAt int64
	Hash      [32]byte
}

// codeStore keeps one-time codes in Redis keyed by purpose and subject, so
// registration and recovery codes can never satisfy each other.
type codeStore struct {
	redis *redis.Client
}

func newCodeStore(redisClient *redis.Client) *codeStore {
	return &codeStore{redis: redisClient}
}

func codeKey(purpose accountflow.CodePurpose, email, accountID string) string {
	if accountID == "" {
		return codeKeyPrefix + ":" + string(purpose) + ":" + email
	}
	return codeKeyPrefix + ":" + string(purpose) + ":" + email + ":" + accountID
}

// Save overwrites any outstanding code for the key. Issuing a new code
// invalidates the previous one.
func (s *codeStore) Save(ctx context.Context, key string, hash [32]byte, ttl time.Duration, now time.Time) error {
	record := codeRecord{
		ExpiresAt: now.Add(ttl).Unix(),
		Hash:      hash,
	}

	encoded, err := encodeCodeRecord(&record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

// Check compares the provided hash against the stored code. With consume
// set the record is deleted on match; otherwise a match leaves the record
// in place for the final consuming call. Mismatches burn an attempt either
// way, and exhausting attempts deletes the record.
func (s *codeStore) Check(ctx context.Context, key string, providedHash [32]byte, maxAttempts int, consume bool, now time.Time) error {
	const maxRetries = 4

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}

			if now.Unix() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return accountflow.ErrCodeExpired
			}

			if subtle.ConstantTimeCompare(record.Hash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return accountflow.ErrCodeAttempts
				}

				ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return accountflow.ErrCodeExpired
				}

				updated, err := encodeCodeRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return accountflow.ErrCodeInvalid
			}

			if consume {
				return txDelete(ctx, tx, key)
			}
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return accountflow.ErrCodeExpired
			case errors.Is(err, accountflow.ErrCodeExpired),
				errors.Is(err, accountflow.ErrCodeInvalid),
				errors.Is(err, accountflow.ErrCodeAttempts):
				return err
			default:
				return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}
		return nil
	}

	return accountflow.ErrCodeExpired
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeCodeRecord(record *codeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.Hash[:])

	return buf.Bytes(), nil
}

func decodeCodeRecord(data []byte) (*codeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	record := &codeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.Hash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
