package history

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/openraffle/raffled/internal/raffle"
)

const (
	ReceiptDriverS3     = "s3"
	ReceiptDriverMemory = "memory"

	receiptContentType    = "application/json"
	defaultMaxReceiptSize = 1 << 20
	receiptVersion        = "raffle.settlement.v1"
)

var (
	ErrInvalidReceiptConfig = errors.New("history: invalid receipt config")
	ErrReceiptNotFound      = errors.New("history: receipt not found")
)

// Receipt is the durable settlement artifact written once per round.
type Receipt struct {
	Version     string `json:"version"`
	RoundID     string `json:"roundId"`
	RequestID   uint64 `json:"requestId"`
	Winner      string `json:"winner"`
	PotWei      string `json:"potWei"`
	PlayerCount int    `json:"playerCount"`
	SettledAt   string `json:"settledAt"`
}

// ReceiptStore persists settlement receipts to a blob backend.
type ReceiptStore interface {
	Put(ctx context.Context, s raffle.Settlement) error
	Get(ctx context.Context, roundID [32]byte) (Receipt, error)
}

// ReceiptConfig selects and configures the blob backend.
type ReceiptConfig struct {
	Driver string
	Prefix string

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func NewReceiptStore(cfg ReceiptConfig) (ReceiptStore, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case ReceiptDriverMemory:
		return newMemoryReceiptStore(cfg.Prefix), nil
	case ReceiptDriverS3, "":
		return newS3ReceiptStore(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidReceiptConfig, cfg.Driver)
	}
}

func receiptKey(prefix string, roundID [32]byte) string {
	key := "rounds/" + hex.EncodeToString(roundID[:]) + "/receipt.json"
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func receiptFromSettlement(s raffle.Settlement) Receipt {
	return Receipt{
		Version:     receiptVersion,
		RoundID:     hex.EncodeToString(s.RoundID[:]),
		RequestID:   s.RequestID,
		Winner:      s.Winner.Hex(),
		PotWei:      s.Pot.String(),
		PlayerCount: s.PlayerCount,
		SettledAt:   s.SettledAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

type s3ReceiptStore struct {
	client S3Client
	bucket string
	prefix string
}

func newS3ReceiptStore(cfg ReceiptConfig) (*s3ReceiptStore, error) {
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: nil s3 client", ErrInvalidReceiptConfig)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: missing bucket", ErrInvalidReceiptConfig)
	}
	return &s3ReceiptStore{
		client: cfg.S3Client,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: cfg.Prefix,
	}, nil
}

func (s *s3ReceiptStore) Put(ctx context.Context, st raffle.Settlement) error {
	payload, err := json.Marshal(receiptFromSettlement(st))
	if err != nil {
		return fmt.Errorf("history: marshal receipt: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(receiptKey(s.prefix, st.RoundID)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(receiptContentType),
		Metadata: map[string]string{
			"artifact-type": "raffle-settlement-receipt",
			"round-id":      hex.EncodeToString(st.RoundID[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("history: put receipt: %w", err)
	}
	return nil
}

func (s *s3ReceiptStore) Get(ctx context.Context, roundID [32]byte) (Receipt, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(receiptKey(s.prefix, roundID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, fmt.Errorf("history: get receipt: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(out.Body, defaultMaxReceiptSize))
	if err != nil {
		return Receipt{}, fmt.Errorf("history: read receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return Receipt{}, fmt.Errorf("history: parse receipt: %w", err)
	}
	return r, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}

type memoryReceiptStore struct {
	mu       sync.Mutex
	prefix   string
	receipts map[string][]byte
}

func newMemoryReceiptStore(prefix string) *memoryReceiptStore {
	return &memoryReceiptStore{
		prefix:   prefix,
		receipts: make(map[string][]byte),
	}
}

func (s *memoryReceiptStore) Put(_ context.Context, st raffle.Settlement) error {
	payload, err := json.Marshal(receiptFromSettlement(st))
	if err != nil {
		return fmt.Errorf("history: marshal receipt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receiptKey(s.prefix, st.RoundID)] = payload
	return nil
}

func (s *memoryReceiptStore) Get(_ context.Context, roundID [32]byte) (Receipt, error) {
	s.mu.Lock()
	payload, ok := s.receipts[receiptKey(s.prefix, roundID)]
	s.mu.Unlock()
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}

	var r Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return Receipt{}, fmt.Errorf("history: parse receipt: %w", err)
	}
	return r, nil
}
