package store

import (
	"context"
	"time"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

// ============================================
// IMPORT LOG OPERATIONS
// ============================================

func (s *GORMStore) GetImportLog(ctx context.Context, id string) (*models.ImportLog, error) {
	return getByField[models.ImportLog](s.db, ctx, "id", id, models.ErrImportLogNotFound)
}

func (s *GORMStore) CreateImportLog(ctx context.Context, log *models.ImportLog) (string, error) {
	log.CreatedAt = time.Now()
	return createWithID(s.db, ctx, log, func(l *models.ImportLog, id string) { l.ID = id }, log.ID, models.ErrImportLogNotFound)
}

// SaveImportLog persists all fields of the import log.
func (s *GORMStore) SaveImportLog(ctx context.Context, log *models.ImportLog) error {
	return s.db.WithContext(ctx).Save(log).Error
}

// ImportLogPage is one page of import history, newest first.
type ImportLogPage struct {
	Logs    []*models.ImportLog `json:"logs"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	Total   int64               `json:"total"`
}

// ListImportLogs returns a page of import logs ordered by creation
// time descending. Page numbers are 1-based.
func (s *GORMStore) ListImportLogs(ctx context.Context, page, perPage int) (*ImportLogPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.ImportLog{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []*models.ImportLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}

	return &ImportLogPage{Logs: logs, Page: page, PerPage: perPage, Total: total}, nil
}

// ImportStatistics aggregates import activity over a trailing window.
type ImportStatistics struct {
	TotalImports      int64            `json:"total_imports"`
	ByStatus          map[string]int64 `json:"by_status"`
	TotalRows         int64            `json:"total_rows"`
	ImportedRows      int64            `json:"imported_rows"`
	UpdatedRows       int64            `json:"updated_rows"`
	InvalidRows       int64            `json:"invalid_rows"`
	DuplicateRows     int64            `json:"duplicate_rows"`
	AvgProcessingTime float64          `json:"avg_processing_time_seconds"`
}

// GetImportStatistics returns aggregated counters for import logs
// created after the since timestamp.
func (s *GORMStore) GetImportStatistics(ctx context.Context, since time.Time) (*ImportStatistics, error) {
	stats := &ImportStatistics{ByStatus: make(map[string]int64)}

	type sums struct {
		Count         int64
		TotalRows     int64
		ImportedRows  int64
		UpdatedRows   int64
		InvalidRows   int64
		DuplicateRows int64
		AvgTime       float64
	}
	var agg sums
	err := s.db.WithContext(ctx).Model(&models.ImportLog{}).
		Select("COUNT(*) AS count, "+
			"COALESCE(SUM(total_rows),0) AS total_rows, "+
			"COALESCE(SUM(imported_rows),0) AS imported_rows, "+
			"COALESCE(SUM(updated_rows),0) AS updated_rows, "+
			"COALESCE(SUM(invalid_rows),0) AS invalid_rows, "+
			"COALESCE(SUM(duplicate_rows),0) AS duplicate_rows, "+
			"COALESCE(AVG(processing_time_seconds),0) AS avg_time").
		Where("created_at >= ?", since).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats.TotalImports = agg.Count
	stats.TotalRows = agg.TotalRows
	stats.ImportedRows = agg.ImportedRows
	stats.UpdatedRows = agg.UpdatedRows
	stats.InvalidRows = agg.InvalidRows
	stats.DuplicateRows = agg.DuplicateRows
	stats.AvgProcessingTime = agg.AvgTime

	type statusCount struct {
		Status string
		Count  int64
	}
	var byStatus []statusCount
	err = s.db.WithContext(ctx).Model(&models.ImportLog{}).
		Select("status, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, sc := range byStatus {
		stats.ByStatus[sc.Status] = sc.Count
	}

	return stats, nil
}
