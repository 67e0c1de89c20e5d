package schedule

// DefaultTimezone is the timezone of built-in schedules.
const DefaultTimezone = "Europe/Prague"

// Built-in job types.
const (
	JobOrdersSyncIncremental   = "orders.sync_incremental"
	JobOrdersRefreshStatuses   = "orders.refresh_statuses"
	JobMarketplaceSyncOrders   = "marketplace.sync_orders"
	JobCustomersRecalculate    = "customers.recalculate_metrics"
	JobVariantsRecalculate     = "variants.recalculate_metrics"
	JobCustomersApplyTagRules  = "customers.apply_tag_rules"
	JobOrderItemsMaintainParts = "order_items.maintain_partitions"
)

// Option keys shared by several job types.
const (
	OptPageSize          = "page_size"
	OptMaxPages          = "max_pages"
	OptOverlapMinutes    = "overlap_minutes"
	OptLookbackHours     = "lookback_hours"
	OptFetchDetails      = "fetch_details"
	OptChunk             = "chunk"
	OptHorizonQuarters   = "horizon_quarters"
	OptRetentionQuarters = "retention_quarters"
	OptQueue             = "queue"
)

// Queue names used by the built-in job types.
const (
	QueueSync        = "sync"
	QueueMetrics     = "metrics"
	QueueMaintenance = "maintenance"
)

func pageSizeOption() IntOption {
	return IntOption{
		Name: OptPageSize, Label: "Velikost stránky",
		Min: 10, Max: 100, Value: 50,
		RangeSubject: "velikosti stránky",
	}
}

func maxPagesOption() IntOption {
	return IntOption{
		Name: OptMaxPages, Label: "Maximální počet stránek",
		Min: 1, Max: 5000, Value: 1000,
		RangeSubject: "počtu stránek",
	}
}

func chunkOption() IntOption {
	return IntOption{
		Name: OptChunk, Label: "Velikost dávky",
		Min: 1, Max: 5000, Value: 500,
		RangeSubject: "velikosti dávky",
	}
}

func fetchDetailsOption() BoolOption {
	return BoolOption{Name: OptFetchDetails, Label: "Stahovat detail objednávky", Value: true}
}

func queueOption(name string) StringOption {
	return StringOption{Name: OptQueue, Label: "Fronta", Value: name, MaxLength: 64}
}

// BuiltinDefinitions returns the job types shipped with the orchestrator.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			JobType:           JobOrdersSyncIncremental,
			Label:             "Synchronizace objednávek",
			Description:       "Průběžně stahuje změněné objednávky z e-shopu od posledního kurzoru.",
			DefaultFrequency:  FrequencyEveryMinutes,
			IntervalMinutes:   15,
			DefaultCron:       "*/15 * * * *",
			DefaultTimezone:   DefaultTimezone,
			SupportsShopScope: true,
			Policy: OptionPolicy{
				pageSizeOption(),
				maxPagesOption(),
				IntOption{
					Name: OptOverlapMinutes, Label: "Překryv okna (minuty)",
					Min: 0, Max: 1440, Value: 10,
					RangeSubject: "překryvu v minutách",
				},
				fetchDetailsOption(),
				queueOption(QueueSync),
			},
		},
		{
			JobType:           JobOrdersRefreshStatuses,
			Label:             "Aktualizace stavů objednávek",
			Description:       "Znovu načte objednávky změněné v posledních hodinách a aktualizuje jejich stav.",
			DefaultFrequency:  FrequencyHourly,
			DefaultCron:       "0 * * * *",
			DefaultTimezone:   DefaultTimezone,
			SupportsShopScope: true,
			Policy: OptionPolicy{
				IntOption{
					Name: OptLookbackHours, Label: "Zpětné okno (hodiny)",
					Min: 1, Max: 720, Value: 48,
					RangeSubject: "zpětného okna v hodinách",
				},
				pageSizeOption(),
				queueOption(QueueSync),
			},
		},
		{
			JobType:           JobMarketplaceSyncOrders,
			Label:             "Synchronizace objednávek z marketplace",
			Description:       "Stahuje objednávky z napojeného marketplace.",
			DefaultFrequency:  FrequencyEveryMinutes,
			IntervalMinutes:   30,
			DefaultCron:       "*/30 * * * *",
			DefaultTimezone:   DefaultTimezone,
			SupportsShopScope: true,
			Policy: OptionPolicy{
				pageSizeOption(),
				maxPagesOption(),
				fetchDetailsOption(),
				queueOption(QueueSync),
			},
		},
		{
			JobType:          JobCustomersRecalculate,
			Label:            "Přepočet metrik zákazníků",
			Description:      "Přepočítá počty objednávek a útratu všech zákazníků po dávkách.",
			DefaultFrequency: FrequencyDaily,
			DefaultCron:      "30 2 * * *",
			DefaultTimezone:  DefaultTimezone,
			Policy:           OptionPolicy{chunkOption(), queueOption(QueueMetrics)},
		},
		{
			JobType:          JobVariantsRecalculate,
			Label:            "Přepočet metrik variant",
			Description:      "Přepočítá prodané množství a tržby všech variant po dávkách.",
			DefaultFrequency: FrequencyDaily,
			DefaultCron:      "0 3 * * *",
			DefaultTimezone:  DefaultTimezone,
			Policy:           OptionPolicy{chunkOption(), queueOption(QueueMetrics)},
		},
		{
			JobType:          JobCustomersApplyTagRules,
			Label:            "Štítkování zákazníků",
			Description:      "Vyhodnotí pravidla štítků nad metrikami zákazníků.",
			DefaultFrequency: FrequencyDaily,
			DefaultCron:      "0 4 * * *",
			DefaultTimezone:  DefaultTimezone,
			Policy:           OptionPolicy{chunkOption(), queueOption(QueueMetrics)},
		},
		{
			JobType:          JobOrderItemsMaintainParts,
			Label:            "Údržba partition položek objednávek",
			Description:      "Zakládá budoucí čtvrtletní partition a odstraňuje ty po době uchování.",
			DefaultFrequency: FrequencyDaily,
			DefaultCron:      "15 1 * * *",
			DefaultTimezone:  DefaultTimezone,
			Policy: OptionPolicy{
				IntOption{
					Name: OptHorizonQuarters, Label: "Horizont (čtvrtletí)",
					Min: 1, Max: 12, Value: 2,
					RangeSubject: "horizontu ve čtvrtletích",
				},
				IntOption{
					Name: OptRetentionQuarters, Label: "Doba uchování (čtvrtletí)",
					Min: 1, Max: 40, Value: 12,
					RangeSubject: "doby uchování ve čtvrtletích",
				},
				queueOption(QueueMaintenance),
			},
		},
	}
}

// DefaultCatalog returns a catalog with the built-in job types registered.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltinDefinitions()...)
	if err != nil {
		panic(err)
	}
	return c
}
