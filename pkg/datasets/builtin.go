package datasets

import (
	"time"

	"github.com/ethpandaops/gridstat/pkg/aggregate"
	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/window"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const yearRange = "{{ .range.startYear }}_{{ .range.endYear }}"

// Builtin returns the bundled dataset definitions.
func Builtin() []Config {
	return []Config{
		{
			ID:               "chirps",
			Description:      "CHIRPS daily precipitation, total annual precipitation averaged over years",
			Catalog:          "UCSB-CHG/CHIRPS/DAILY",
			Bands:            []Band{{Name: "precipitation", Column: "precipitation"}},
			ResolutionMeters: 5566,
			UnitFactor:       1,
			Granularity:      window.Day,
			Cadence:          window.Cadence{Granularity: window.Day},
			Combine:          aggregate.CombineIdentity,
			Statistic:        algebra.StatMean,
			RangeStart:       date(1999, 1, 1),
			RangeEnd:         date(2002, 12, 31),
			TimeColumn:       "date",
			Table:            TableConfig{Name: "Gheba_CHIRPS_Daily_Precip_" + yearRange},
			Rollup: RollupConfig{
				Period:  window.Year,
				Exports: []Export{{Name: "CHRPS_Avg_Annual_Precip_" + yearRange}},
			},
		},
		{
			ID:               "era5",
			Description:      "ERA5-Land hourly total precipitation, average hourly precipitation",
			Catalog:          "ECMWF/ERA5_LAND/HOURLY",
			Bands:            []Band{{Name: "total_precipitation_hourly", Column: "ERA5_PRECIPITATION"}},
			ResolutionMeters: 11132,
			UnitFactor:       1,
			Granularity:      window.Hour,
			Cadence:          window.Cadence{Every: time.Hour},
			Combine:          aggregate.CombineIdentity,
			Statistic:        algebra.StatMean,
			RangeStart:       date(1999, 1, 1),
			RangeEnd:         date(2002, 12, 31),
			TimeColumn:       "datetime",
			Table:            TableConfig{Name: "Gheba_ERA5_Hourly_Precipitation_" + yearRange},
			Rollup: RollupConfig{
				// one period per hour: the mean across periods is total / hours
				Period:  window.Hour,
				Exports: []Export{{Name: "ERA5-LAND_Average_Hourly_Precipitation_" + yearRange}},
			},
		},
		{
			ID:               "terraclimate",
			Description:      "TerraClimate monthly precipitation and potential evapotranspiration",
			Catalog:          "IDAHO_EPSCOR/TERRACLIMATE",
			Bands:            []Band{{Name: "pr", Column: "TERRACLIMATE_PRECIPITATION"}, {Name: "pet", Column: "TERRACLIMATE_PET"}},
			ResolutionMeters: 4638.3,
			UnitFactor:       1,
			Granularity:      window.Month,
			Cadence:          window.Cadence{Granularity: window.Month},
			Combine:          aggregate.CombineIdentity,
			Statistic:        algebra.StatMean,
			RangeStart:       date(1999, 1, 1),
			RangeEnd:         date(2019, 12, 31),
			TimeColumn:       "datetime",
			Table:            TableConfig{Name: "Tigray_TerraClimate_Monthly_Precipitation_PET_" + yearRange},
			Rollup: RollupConfig{
				Period: window.Year,
				Exports: []Export{
					{Name: "Tigray_Average_Annual_Precipitation_" + yearRange, Bands: []string{"pr"}},
					{Name: "Tigray_Average_Annual_PET_" + yearRange, Bands: []string{"pet"}},
				},
			},
		},
		{
			ID:               "trmm",
			Description:      "TRMM 3B42 3-hourly precipitation rate summed to daily depth",
			Catalog:          "TRMM/3B42",
			Bands:            []Band{{Name: "precipitation", Column: "TRMM_Daily_Precip_mm"}},
			ResolutionMeters: 27830,
			// mm/hr over 3-hour steps
			UnitFactor:  3,
			Granularity: window.Day,
			Cadence:     window.Cadence{Every: 3 * time.Hour},
			Combine:     aggregate.CombineSum,
			Statistic:   algebra.StatMean,
			RangeStart:  date(1999, 1, 1),
			RangeEnd:    date(2002, 12, 31),
			TimeColumn:  "date",
			Table:       TableConfig{Name: "TRMM_GHEBA_BASIN_Daily_Precipitation_" + yearRange},
			Rollup: RollupConfig{
				Period:        window.Year,
				Exports:       []Export{{Name: "TRMM_Avg_Annual_Precipitation_" + yearRange}},
				ExportPeriods: true,
				PeriodName:    "TRMM_Annual_Precipitation_{{ .period }}",
			},
		},
	}
}

// NewBuiltinRegistry returns a registry holding the bundled datasets.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()

	for _, cfg := range Builtin() {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}

	return r, nil
}
