// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/config"
	"mind-namo-go/internal/handler"
	"mind-namo-go/internal/middleware"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/pipeline"
	"mind-namo-go/internal/relay"
	"mind-namo-go/internal/repository"
	"mind-namo-go/internal/service"
	"mind-namo-go/internal/signaling"
	"mind-namo-go/pkg/database"
	"mind-namo-go/pkg/es"
	"mind-namo-go/pkg/kafka"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/storage"
	"mind-namo-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	configPath := "./configs/config.yaml"
	if p := os.Getenv("MIND_NAMO_CONFIG"); p != "" {
		configPath = p
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化数据库、Redis 和外部依赖
	mysql := cfg.Database.MySQL
	dbHandle := database.NewHandle(
		database.MySQLOpener(mysql.DSN, mysql.MaxIdleConns, mysql.MaxOpenConns),
		&model.Conversation{}, &model.Message{}, &model.MessageRead{}, &model.Appointment{}, &model.Attachment{},
	)
	db, err := dbHandle.Acquire(ctx)
	if err != nil {
		log.Fatal("初始化数据库失败", err)
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("初始化 Redis 失败", err)
	}
	store, err := storage.NewStore(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("初始化 MinIO 失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("初始化 Elasticsearch 客户端失败", err)
	}
	messageIndex, err := es.NewIndex(ctx, esClient, cfg.Elasticsearch.IndexName)
	if err != nil {
		log.Fatal("初始化消息索引失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	presenceRepo := repository.NewPresenceRepository(rdb, cfg.Relay.PresenceTTL)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	rooms := signaling.NewRooms()
	conversationService := service.NewConversationService(conversationRepo, messageRepo, presenceRepo)
	chatService := service.NewChatService(conversationRepo, messageRepo, presenceRepo, producer)
	searchService := service.NewSearchService(esClient, cfg.Elasticsearch.IndexName, conversationRepo)
	uploadService := service.NewUploadService(uploadRepo, store)
	whiteboardService := service.NewWhiteboardService(appointmentRepo, rooms, store, producer)

	// 6. 启动实时中继，跨实例投递走 Redis 频道
	bus := relay.NewRedisBus(rdb, cfg.Relay.BusChannel)
	relayServer := relay.NewServer(cfg.Relay, relay.NewHub(), bus, rooms, conversationService, chatService, whiteboardService)
	if err := relayServer.Start(ctx); err != nil {
		log.Fatal("启动实时中继失败", err)
	}

	// 7. 启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(messageIndex, pipeline.LogNotifier{})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.StartConsumer(ctx, cfg.Kafka, kafka.NewRedisAttempts(rdb), processor)
	}()

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r, jwtManager, handler.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"mysql": func(ctx context.Context) error {
				db, err := dbHandle.Acquire(ctx)
				if err != nil {
					return err
				}
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		Conversation: handler.NewConversationHandler(conversationService),
		Search:       handler.NewSearchHandler(searchService),
		Upload:       handler.NewUploadHandler(uploadService),
		Whiteboard:   handler.NewWhiteboardHandler(whiteboardService),
		Relay:        handler.NewRelayHandler(ctx, relayServer, jwtManager),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止中继订阅和 Kafka 消费者
	cancel()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	if err := bus.Close(); err != nil {
		log.Warnf("关闭中继总线失败: %v", err)
	}
	if err := producer.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Warnf("关闭 Redis 失败: %v", err)
	}
	if err := dbHandle.Close(); err != nil {
		log.Warnf("关闭数据库失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
