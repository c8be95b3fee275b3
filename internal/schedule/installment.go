/**
 * @description
 * Installment math for recurring transfers. Installments are numbered from the
 * contract date: the contract month itself is installment 1, and each full
 * calendar month since adds one.
 */

package schedule

import "time"

// CurrentInstallment returns the installment number as of `asOf`, counting
// whole calendar months elapsed since the contract date plus one. The result
// is never below 1.
func CurrentInstallment(contractDate, asOf time.Time) int {
	c := contractDate.UTC()
	a := asOf.UTC()

	months := (a.Year()-c.Year())*12 + int(a.Month()) - int(c.Month())
	if a.Day() < c.Day() {
		months-- // partial month does not count
	}
	if months < 0 {
		months = 0
	}
	return months + 1
}

// RemainingInstallments returns how many installments are left, never negative.
func RemainingInstallments(total, current int) int {
	if remaining := total - current; remaining > 0 {
		return remaining
	}
	return 0
}

// IsFirstInstallment reports whether the given installment number is the first.
func IsFirstInstallment(current int) bool {
	return current == 1
}
