package intake

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"catalog-import-service/internal/models"
)

// MaxSampleValues is the number of distinct samples kept per column
const MaxSampleValues = 5

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"02-Jan-2006",
}

// ColumnsOf returns the union of record keys in sorted order
func ColumnsOf(records []map[string]string) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, record := range records {
		for key := range record {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// ProfileRecords builds a descriptor per column from the record values.
// When columns is empty the record keys are used in sorted order.
func ProfileRecords(columns []string, records []map[string]string) []models.SourceFieldDescriptor {
	if len(columns) == 0 {
		columns = ColumnsOf(records)
	}

	descriptors := make([]models.SourceFieldDescriptor, 0, len(columns))
	for _, col := range columns {
		descriptors = append(descriptors, profileColumn(col, records))
	}
	return descriptors
}

func profileColumn(name string, records []map[string]string) models.SourceFieldDescriptor {
	desc := models.SourceFieldDescriptor{
		Name:       name,
		TotalCount: len(records),
	}

	isBool, isInt, isFloat, isTimestamp := true, true, true, true
	hasValue := false
	unique := make(map[string]bool)

	for _, record := range records {
		value := strings.TrimSpace(record[name])
		if value == "" {
			desc.NullCount++
			continue
		}
		hasValue = true

		if !unique[value] {
			unique[value] = true
			if len(desc.SampleValues) < MaxSampleValues {
				desc.SampleValues = append(desc.SampleValues, value)
			}
		}

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeInt(value) {
			isInt = false
		}
		if !looksLikeFloat(value) {
			isFloat = false
		}
		if !looksLikeTimestamp(value) {
			isTimestamp = false
		}
	}
	desc.UniqueCount = len(unique)

	switch {
	case !hasValue:
		desc.InferredType = models.InferredString
	case isInt:
		desc.InferredType = models.InferredInteger
	case isFloat:
		desc.InferredType = models.InferredFloat
	case isBool:
		desc.InferredType = models.InferredBoolean
	case isTimestamp:
		desc.InferredType = models.InferredTimestamp
	default:
		desc.InferredType = models.InferredString
	}
	return desc
}

// looksLikeBool accepts word forms only; 0 and 1 profile as integers
func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "y", "n":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return true
	}
	// Allow float representations that can be losslessly converted to int.
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return math.Mod(f, 1) == 0
	}
	return false
}

func looksLikeFloat(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func looksLikeTimestamp(value string) bool {
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
