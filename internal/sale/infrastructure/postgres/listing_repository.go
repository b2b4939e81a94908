package postgres

import (
	"context"
	"time"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

const listingColumns = `id, owner_id, price_cents, for_sale, status, reserved_by, reserved_until, reserved_session_id, updated_at`

type ListingRepository struct {
	db DBTX
}

func NewListingRepository(db DBTX) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Get(ctx context.Context, id string) (domain.Listing, error) {
	return r.get(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, id)
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *ListingRepository) GetForUpdate(ctx context.Context, id string) (domain.Listing, error) {
	return r.get(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1 FOR UPDATE`, id)
}

func (r *ListingRepository) get(ctx context.Context, query, id string) (domain.Listing, error) {
	var (
		l      domain.Listing
		status string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.OwnerID, &l.Price, &l.ForSale, &status,
		&l.ReservedBy, &l.ReservedUntil, &l.ReservedSessionID, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, notFound(err, "listing", id)
	}
	l.Status = domain.ListingStatus(status)
	return l, nil
}

// Save upserts a listing as the catalogue owns it. Reservation columns are left alone.
func (r *ListingRepository) Save(ctx context.Context, l domain.Listing) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO listings (id, owner_id, price_cents, for_sale, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET owner_id=$2, price_cents=$3, for_sale=$4, status=$5, updated_at=now()
	`, l.ID, l.OwnerID, l.Price, l.ForSale, string(l.Status))
	return err
}

func (r *ListingRepository) Reserve(ctx context.Context, id, buyerID string, now, until time.Time) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE listings
		SET reserved_by=$2, reserved_until=$4, reserved_session_id=NULL, updated_at=$3
		WHERE id=$1
		  AND for_sale
		  AND status='AVAILABLE'
		  AND (reserved_until IS NULL OR reserved_until < $3)
	`, id, buyerID, now, until)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ListingRepository) AttachSession(ctx context.Context, id, buyerID, sessionID string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE listings SET reserved_session_id=$3, updated_at=now()
		WHERE id=$1 AND status='AVAILABLE' AND reserved_by=$2
	`, id, buyerID, sessionID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ListingRepository) Release(ctx context.Context, id, sessionID string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE listings
		SET reserved_by=NULL, reserved_until=NULL, reserved_session_id=NULL, updated_at=now()
		WHERE id=$1 AND status='AVAILABLE' AND reserved_session_id=$2
	`, id, sessionID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ListingRepository) MarkSold(ctx context.Context, id, newOwnerID string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE listings
		SET status='SOLD', for_sale=false, owner_id=$2,
		    reserved_by=NULL, reserved_until=NULL, reserved_session_id=NULL, updated_at=now()
		WHERE id=$1 AND status='AVAILABLE'
	`, id, newOwnerID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ListingRepository) ClearLapsed(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE listings
		SET reserved_by=NULL, reserved_until=NULL, reserved_session_id=NULL, updated_at=$1
		WHERE status='AVAILABLE' AND reserved_until < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
