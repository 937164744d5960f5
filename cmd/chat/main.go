package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"campuschat/internal/config"
	"campuschat/internal/conversation"
	"campuschat/internal/directory"
	"campuschat/internal/keystore"
	"campuschat/internal/localstore"
	"campuschat/internal/realtime"
	messageRepo "campuschat/internal/repository/message"
	reactionRepo "campuschat/internal/repository/reaction"
	"campuschat/internal/service/app"
	"campuschat/internal/storage"
	"campuschat/internal/utils/log"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: chat <username>")
		os.Exit(1)
	}
	username := os.Args[1]

	cfg := config.Load()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect to mongo failed", zap.Error(err))
	}
	db := mongoDBClient.Database(cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	feed, err := realtime.Dial(cfg.RealtimeURL)
	if err != nil {
		log.Fatal("connect to realtime feed failed", zap.Error(err))
	}

	uploads, err := storage.NewGridFSStorage(db, cfg.StoragePublicBase)
	if err != nil {
		log.Fatal("open media storage failed", zap.Error(err))
	}

	dir := directory.NewMongoDirectory(db)
	keys := keystore.New(localstore.NewRedisStore(rdb), dir)

	conv := conversation.New(
		keys,
		dir,
		messageRepo.NewMessageRepo(db),
		reactionRepo.NewReactionRepo(db),
		uploads,
		feed,
	)

	var peer string
	fmt.Print("Chat with: ")
	if _, err := fmt.Scan(&peer); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	ctx := context.Background()

	chat := app.NewApp(conv)
	go func() {
		if err := chat.Run(ctx, username, peer); err != nil {
			log.Fatal("open conversation failed", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	chat.Stop()
	feed.Close()
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
