package models

// AllTables lists every persisted model for migration.
func AllTables() []interface{} {
	return []interface{}{
		&Player{},
		&Team{},
		&Gameweek{},
		&Fixture{},
		&PlayerGameweekHistory{},
		&HistoricalPlayer{},
		&HistoricalGameweekData{},
		&MyTeamSlot{},
		&TeamState{},
		&DraftSlot{},
		&TransferRecord{},
		&ChipUsage{},
		&DecisionRecord{},
		&PlayerPrediction{},
		&LearningMetric{},
		&AgentPerformance{},
		&ModelRegistryEntry{},
		&ModelPrediction{},
		&ModelPerformance{},
		&EloRating{},
		&EloMatchResult{},
		&LeagueStandingRow{},
		&LeagueRival{},
		&RivalChipUsage{},
		&RivalChipStatus{},
		&PricePrediction{},
		&TransferSnapshot{},
		&PriceChange{},
		&PriceModelPerformance{},
	}
}
