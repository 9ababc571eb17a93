package service

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"Gateleen/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ConfigService exposes the breaker configuration.
type ConfigService struct {
	manager *biz.ConfigManager
	logger  *log.Helper
}

// NewConfigService creates a new ConfigService instance.
func NewConfigService(manager *biz.ConfigManager, logger log.Logger) *ConfigService {
	return &ConfigService{
		manager: manager,
		logger:  log.NewHelper(log.With(logger, "module", "service/config")),
	}
}

// GetConfig returns the active configuration.
func (s *ConfigService) GetConfig(ctx context.Context) (*biz.BreakerConfig, error) {
	cfg := s.manager.Config()
	return &cfg, nil
}

// UpdateConfig validates and applies a configuration document.
func (s *ConfigService) UpdateConfig(ctx context.Context, doc []byte) error {
	err := s.manager.Update(ctx, doc)
	if err == nil {
		return nil
	}

	var verr *biz.ValidationError
	if stderrors.As(err, &verr) {
		details, _ := json.Marshal(verr.Details)
		return errors.BadRequest("INVALID_CONFIGURATION", verr.Error()).
			WithMetadata(map[string]string{"details": string(details)})
	}
	s.logger.Errorw("msg", "failed to update configuration", "error", err)
	return errors.InternalServer("STORAGE_ERROR", err.Error())
}

// DeleteConfig restores the default configuration.
func (s *ConfigService) DeleteConfig(ctx context.Context) error {
	if err := s.manager.Reset(ctx); err != nil {
		s.logger.Errorw("msg", "failed to reset configuration", "error", err)
		return errors.InternalServer("STORAGE_ERROR", err.Error())
	}
	return nil
}
