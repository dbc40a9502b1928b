package provider

import (
	"fmt"
	"time"
)

// ageFromYMD computes a person's age in whole years from two ISO (YYYY-MM-DD)
// calendar dates. The arithmetic is exact calendar-year subtraction: one year
// is removed only when the (month, day) of now precedes the (month, day) of
// the birthdate, so a birthday falling on now itself counts as completed.
func ageFromYMD(dob, now string) (int, error) {
	birth, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return 0, fmt.Errorf("parse birthdate %q: %w", dob, err)
	}
	today, err := time.Parse("2006-01-02", now)
	if err != nil {
		return 0, fmt.Errorf("parse current date %q: %w", now, err)
	}

	years := today.Year() - birth.Year()
	if today.Month() < birth.Month() ||
		(today.Month() == birth.Month() && today.Day() < birth.Day()) {
		years--
	}
	return years, nil
}
