package services

import (
	"strconv"

	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) GetIntWithDefault(key string, defaultValue int) int {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func (s *SystemConfigService) GetBoolWithDefault(key string, defaultValue bool) bool {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value == "true"
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// SyncSettingsResponse is the runtime-tunable part of the sync loop, kept in
// system config so admins can change it without a restart.
type SyncSettingsResponse struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
	LookbackDays    int  `json:"lookback_days"`
}

func (s *SystemConfigService) GetSyncSettings() *SyncSettingsResponse {
	return &SyncSettingsResponse{
		Enabled:         s.GetBoolWithDefault("sync_enabled", true),
		IntervalMinutes: s.GetIntWithDefault("sync_interval_minutes", 5),
		LookbackDays:    s.GetIntWithDefault("sync_lookback_days", 2),
	}
}

type UpdateSyncSettingsRequest struct {
	Enabled         *bool `json:"enabled"`
	IntervalMinutes *int  `json:"interval_minutes"`
	LookbackDays    *int  `json:"lookback_days"`
}

func (s *SystemConfigService) UpdateSyncSettings(req *UpdateSyncSettingsRequest) error {
	if req.Enabled != nil {
		if err := s.Set("sync_enabled", strconv.FormatBool(*req.Enabled)); err != nil {
			return err
		}
	}
	if req.IntervalMinutes != nil {
		minutes := clampInt(*req.IntervalMinutes, 1, 24*60)
		if err := s.Set("sync_interval_minutes", strconv.Itoa(minutes)); err != nil {
			return err
		}
	}
	if req.LookbackDays != nil {
		days := clampInt(*req.LookbackDays, 1, 90)
		if err := s.Set("sync_lookback_days", strconv.Itoa(days)); err != nil {
			return err
		}
	}
	return nil
}
