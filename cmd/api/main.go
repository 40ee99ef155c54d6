package main

import (
	"log"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/cache"
	"app/internal/infra/db"
	infraRepo "app/internal/infra/repository"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type jwtIssuer struct {
	secret    []byte
	accessTTL time.Duration
}

func (i *jwtIssuer) Issue(userID int64, role model.Role, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(i.accessTTL)

	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func main() {
	//.envは無くてもいい（本番は環境変数だけ）
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if cfg.GoEnv == "dev" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.StockLedger{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderReservation{},
		&model.StockAnomaly{},
		&model.InventoryAdjustment{},
	); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	stockRepo := infraRepo.NewStockLedgerGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//読みキャッシュの破棄（REDIS_ADDRが無ければ無効）
	var invalidator usecase.StockCacheInvalidator
	if cfg.RedisAddr != "" {
		c := cache.NewStockCacheInvalidator(cfg.RedisAddr, logger)
		defer c.Close()
		invalidator = c
	}

	//JWT issuer
	issuer := &jwtIssuer{
		secret:    []byte(cfg.JWTSecret),
		accessTTL: 15 * time.Minute,
	}

	//Usecase生成
	reservationUC := usecase.NewReservationUsecase(txManager, logger, invalidator)
	authUC := usecase.NewAuthUsecase(userRepo, issuer, 12)
	productUC := usecase.NewProductUsecase(productRepo, stockRepo, txManager)
	orderUC := usecase.NewOrderUsecase(txManager, reservationUC)
	paymentUC := usecase.NewPaymentUsecase(txManager, reservationUC, logger)

	//Handler生成
	handlers := server.Handlers{
		Auth:         handler.NewAuthHandler(authUC),
		Product:      handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC, reservationUC),
		Order:        handler.NewOrderHandler(orderUC),
		Payment:      handler.NewPaymentHandler(paymentUC, cfg),
	}

	//Server起動
	addr := cfg.Port
	if addr[0] != ':' {
		addr = ":" + addr
	}

	logger.Info("starting server", zap.String("addr", addr))
	if err := server.Start(addr, cfg, handlers); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
