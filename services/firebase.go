package services

import (
	"context"
	"fmt"
	"time"

	"plantops/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// mirrorRecord is one value to store at Path in the realtime database.
type mirrorRecord struct {
	Path    string
	Payload any
}

// mirrorWriter stores batches of records. FirebaseService is the production
// implementation.
type mirrorWriter interface {
	WriteBatch(ctx context.Context, batch []mirrorRecord) error
}

// FirebaseService mirrors the audit trail into a Firebase realtime database.
type FirebaseService struct {
	client *db.Client
	config *config.Config
	logger *zap.Logger
}

func NewFirebaseService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	var opts []option.ClientOption
	if cfg.FirebaseServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON)))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseService{
		client: client,
		config: cfg,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection reads the agent's status node with retry.
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fs.client.NewRef("plantops/status").Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// WriteBatch stores every record in one multi-path update.
func (fs *FirebaseService) WriteBatch(ctx context.Context, batch []mirrorRecord) error {
	if len(batch) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(batch)+1)
	for _, rec := range batch {
		updates[rec.Path] = rec.Payload
	}
	updates["status/last_sync"] = time.Now().UTC().Format(time.RFC3339)

	if err := fs.client.NewRef("plantops").Update(ctx, updates); err != nil {
		return fmt.Errorf("error writing batch: %w", err)
	}

	fs.logger.Debug("Mirrored batch to Firebase", zap.Int("records", len(batch)))
	return nil
}

func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	return nil
}
