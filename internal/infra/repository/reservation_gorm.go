package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReservationGormRepository struct {
	db *gorm.DB
}

func NewReservationGormRepository(db *gorm.DB) *ReservationGormRepository {
	return &ReservationGormRepository{db: db}
}

func (r *ReservationGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.OrderReservation, error) {
	var rec model.OrderReservation
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OrderReservation{}, repo.ErrNotFound
	}
	if err != nil {
		return model.OrderReservation{}, err
	}
	return rec, nil
}

// 同じ注文への並行呼び出しを行ロックで直列化する
func (r *ReservationGormRepository) FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.OrderReservation, error) {
	var rec model.OrderReservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OrderReservation{}, repo.ErrNotFound
	}
	if err != nil {
		return model.OrderReservation{}, err
	}
	return rec, nil
}

func (r *ReservationGormRepository) Create(ctx context.Context, rec model.OrderReservation) error {
	err := r.db.WithContext(ctx).Create(&rec).Error
	if isUniqueViolation(err) {
		//先に作られた（同時リトライ）
		return repo.ErrConflict
	}
	return err
}

func (r *ReservationGormRepository) UpdateState(ctx context.Context, orderID int64, state model.ReservationState) error {
	res := r.db.WithContext(ctx).
		Model(&model.OrderReservation{}).
		Where("order_id = ?", orderID).
		Update("state", state)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// PostgreSQLのunique_violation（23505）かどうか
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
