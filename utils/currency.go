package utils

import (
	"fmt"
	"strconv"

	"github.com/yeremiapane/table-sync/models"
)

// FormatRupiah memformat nominal ke format Rupiah
// Contoh: 1500050 sen -> "Rp 15.000,50", 1500000 sen -> "Rp 15.000"
func FormatRupiah(amount models.Money) string {
	cents := amount.Cents()
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	// Tambahkan pemisah ribuan
	digits := strconv.FormatInt(cents/100, 10)
	grouped := make([]byte, 0, len(digits)+len(digits)/3)
	for i := 0; i < len(digits); i++ {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, digits[i])
	}

	if decimal := cents % 100; decimal > 0 {
		return fmt.Sprintf("%sRp %s,%02d", sign, grouped, decimal)
	}
	return fmt.Sprintf("%sRp %s", sign, grouped)
}
