//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package retail

import "time"

// FullName joins name parts the way the warehouse stores them.
func FullName(first, last string) string {
	return first + " " + last
}

// AgeGroup buckets a date of birth into the warehouse age bands,
// measured as of the given business date.
func AgeGroup(dateOfBirth, asOf time.Time) string {
	age := asOf.Year() - dateOfBirth.Year()
	anniversary := time.Date(asOf.Year(), dateOfBirth.Month(), dateOfBirth.Day(), 0, 0, 0, 0, time.UTC)
	if asOf.Before(anniversary) {
		age--
	}

	switch {
	case age < 25:
		return "Under 25"
	case age < 35:
		return "25-34"
	case age < 45:
		return "35-44"
	case age < 55:
		return "45-54"
	case age < 65:
		return "55-64"
	default:
		return "65+"
	}
}

// IncomeBand buckets a monthly PKR amount into the warehouse income
// bands. Employee salary bands use the same cuts.
func IncomeBand(monthly float64) string {
	switch {
	case monthly < 50000:
		return "Low"
	case monthly < 150000:
		return "Middle"
	case monthly < 300000:
		return "Upper Middle"
	default:
		return "High"
	}
}
