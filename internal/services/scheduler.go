package services

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/muoit/CLIProxyAPI-Monitor/pkg/logger"
)

// SyncScheduler enqueues a usage-sync task on a fixed interval. The interval
// and enabled flag live in system config so they survive restarts and can be
// changed at runtime through the settings API; UpdateSchedule re-arms the
// cron entry after such a change.
type SyncScheduler struct {
	cronScheduler  *cron.Cron
	currentEntryID cron.EntryID
	queue          TaskQueue
	configService  *SystemConfigService
	mu             sync.Mutex
}

func NewSyncScheduler(queue TaskQueue, configService *SystemConfigService) *SyncScheduler {
	return &SyncScheduler{
		queue:         queue,
		configService: configService,
	}
}

func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cronScheduler = cron.New()
	s.updateSchedule()
	s.cronScheduler.Start()
	logger.Infof("[SyncScheduler] Scheduler started")
}

func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

// UpdateSchedule re-reads sync settings and re-arms the cron entry. Called
// after the settings API changes sync_enabled or sync_interval_minutes.
func (s *SyncScheduler) UpdateSchedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cronScheduler == nil {
		return
	}
	s.updateSchedule()
}

// updateSchedule must be called with s.mu held.
func (s *SyncScheduler) updateSchedule() {
	if s.currentEntryID != 0 {
		s.cronScheduler.Remove(s.currentEntryID)
		s.currentEntryID = 0
	}

	if !s.configService.GetBoolWithDefault("sync_enabled", true) {
		logger.Infof("[SyncScheduler] Sync disabled, no schedule armed")
		return
	}

	interval := s.configService.GetIntWithDefault("sync_interval_minutes", 5)
	if interval < 1 {
		interval = 1
	}

	cronExpr := fmt.Sprintf("@every %dm", interval)

	entryID, err := s.cronScheduler.AddFunc(cronExpr, func() {
		if err := s.queue.Enqueue(&SyncTask{Trigger: TriggerScheduled}); err != nil {
			logger.Errorf("[SyncScheduler] Failed to enqueue sync task: %v", err)
		}
	})
	if err != nil {
		logger.Errorf("[SyncScheduler] Failed to add cron job: %v", err)
		return
	}

	s.currentEntryID = entryID
	logger.Infof("[SyncScheduler] Scheduled every %d minute(s) (cron: %s)", interval, cronExpr)
}
