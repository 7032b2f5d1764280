package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"lava-reports/internal/report"
)

// Supply point statuses.
const (
	StatusOK = "ok"
)

// BlockSample is an archived located block.
type BlockSample struct {
	TargetDate time.Time
	Height     int64
	BlockTime  time.Time
	SecondsOff float64
	CreatedAt  time.Time
}

// SupplyPoint is an archived daily supply observation. Supply and SupplyDiff
// are nil for points that could not be fetched; Status then carries the
// report marker.
type SupplyPoint struct {
	TargetDate time.Time
	Height     int64
	Supply     *decimal.Decimal
	SupplyDiff *decimal.Decimal
	Status     string
	Error      *string
	CreatedAt  time.Time
}

// FromSupplyReport converts a supply report into archive rows. Points that
// were never located produce no block sample.
func FromSupplyReport(rep *report.SupplyReport) ([]BlockSample, []SupplyPoint, error) {
	samples := make([]BlockSample, 0, len(rep.Data))
	points := make([]SupplyPoint, 0, len(rep.Data))
	for _, p := range rep.Data {
		target, err := time.Parse("2006-01-02", p.TargetDate)
		if err != nil {
			return nil, nil, err
		}
		point := SupplyPoint{
			TargetDate: target,
			Height:     p.Block,
			Supply:     p.Supply,
			SupplyDiff: p.SupplyDiff,
			Status:     StatusOK,
		}
		if p.Failed() {
			point.Status = p.Error
			if p.Detail != "" {
				detail := p.Detail
				point.Error = &detail
			}
		}
		points = append(points, point)

		if p.BlockTime == nil || p.Block == 0 {
			continue
		}
		sample := BlockSample{TargetDate: target, Height: p.Block, BlockTime: p.BlockTime.UTC()}
		if p.SecondsOff != nil {
			sample.SecondsOff = *p.SecondsOff
		}
		samples = append(samples, sample)
	}
	return samples, points, nil
}
