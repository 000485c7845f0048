package wire

import (
	"Patronage/internal/api"
	"Patronage/internal/api/config"
	"Patronage/internal/api/handler"
	"Patronage/internal/api/middleware"
	"Patronage/internal/job"
	"Patronage/internal/pkg/consts"
	"Patronage/internal/pkg/cron"
	"Patronage/internal/pkg/kafka"
	"Patronage/internal/pkg/minio"
	"Patronage/internal/pkg/mongo"
	"Patronage/internal/pkg/redis"
	"Patronage/internal/repository"
	"Patronage/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/gin-gonic/gin"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router    *gin.Engine
	DB        *gorm.DB
	IMService service.IMService
	CronMgr   *cron.Manager
	Producer  *kafka.ChatEventProducer
}

func BuildApplication(db *gorm.DB, mongoDB *mongodrv.Database, cfg *config.Config) (*ApplicationContainer, error) {
	pointerRepo := repository.NewPointerRepo(db)
	threadRepo := repository.NewThreadRepo(db)
	profileRepo := repository.NewProfileRepo(db)
	messageRepo := mongo.NewMessageRepo(mongoDB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	dirty := redis.NewDirtySet(consts.IMThreadDirtyKey)
	opts := service.IMOptions{
		Dirty:        dirty,
		SettleDelay:  time.Duration(cfg.IM.SettleDelayMs) * time.Millisecond,
		Workers:      cfg.IM.DeliveryWorkers,
		QueueSize:    cfg.IM.DeliveryQueue,
		WriteTimeout: time.Duration(cfg.IM.WriteTimeoutMs) * time.Millisecond,
		PageSize:     cfg.IM.HistoryPageSize,
	}

	if cfg.MinIO.Enable {
		opts.MediaURL = minio.GetPublicURL
		opts.MediaExists = minio.MediaExists
	}

	var producer *kafka.ChatEventProducer
	if cfg.Kafka.Enable {
		p, err := kafka.NewChatEventProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		producer = p
		opts.Emitter = p
	} else {
		log.Info("Kafka disabled, chat events will not be produced")
	}

	imService := service.NewIMService(pointerRepo, threadRepo, profileRepo, messageRepo, redis.NewFeed(redis.Rdb), opts)

	origins := middleware.NewOriginChecker(cfg.Server.AllowedOrigins)
	handlers := &api.HandlersGroup{
		Origins:   origins,
		IMHandler: handler.NewIMHandler(imService),
		WSHandler: handler.NewWsHandler(imService, origins),
	}
	router := api.SetupRouter(handlers)

	reconcileJob := job.NewThreadReconcileJob(imService, dirty, redis.Locker{})
	cronMgr := cron.NewCronManager(cfg.IM.ReconcileCron, reconcileJob)

	return &ApplicationContainer{
		Router:    router,
		DB:        db,
		IMService: imService,
		CronMgr:   cronMgr,
		Producer:  producer,
	}, nil
}
