package process

import (
	"fmt"
	"time"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/xlsx"
)

const dateLayout = "2006-01-02"

// validateRows implements spec.md §4.3 step 5: iterate rows 1-indexed from
// the header (first data row is row 2), collecting row errors and
// building the set of reservations to upsert. The first occurrence of a
// reservationId within the file wins; later occurrences are reported as
// duplicate-row errors rather than racing each other for the upsert (I4).
func validateRows(rows []xlsx.Row, now time.Time) (reservations []*models.Reservation, errs []models.RowError, rowCount int) {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		rowCount++
		idx := row.Index

		id := row.Values["reservation_id"]
		guest := row.Values["guest_name"]
		checkIn := row.Values["check_in_date"]
		checkOut := row.Values["check_out_date"]
		status := row.Values["status"]

		if id == "" || guest == "" || checkIn == "" || checkOut == "" || status == "" {
			errs = append(errs, rowError(idx, "missing required field"))
			continue
		}
		if seen[id] {
			errs = append(errs, rowError(idx, fmt.Sprintf("duplicate reservation_id %q", id)))
			continue
		}
		checkInDate, err := time.Parse(dateLayout, checkIn)
		if err != nil {
			errs = append(errs, rowError(idx, fmt.Sprintf("invalid check_in_date %q", checkIn)))
			continue
		}
		checkOutDate, err := time.Parse(dateLayout, checkOut)
		if err != nil {
			errs = append(errs, rowError(idx, fmt.Sprintf("invalid check_out_date %q", checkOut)))
			continue
		}
		if !checkOutDate.After(checkInDate) {
			errs = append(errs, rowError(idx, "check_out_date must be after check_in_date"))
			continue
		}
		rStatus := models.ReservationStatus(status)
		switch rStatus {
		case models.ReservationPending, models.ReservationCanceled, models.ReservationCompleted:
		default:
			errs = append(errs, rowError(idx, fmt.Sprintf("invalid status %q", status)))
			continue
		}

		seen[id] = true
		reservations = append(reservations, &models.Reservation{
			ReservationID: id,
			GuestName:     guest,
			Status:        rStatus,
			CheckInDate:   checkIn,
			CheckOutDate:  checkOut,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return reservations, errs, rowCount
}

func rowError(idx int, msg string) models.RowError {
	i := idx
	return models.RowError{Row: &i, Error: msg}
}
