// Package storage MongoDB 验证报告归档实现
//
// 使用 mongo-go-driver v2，通过 bson tag 实现报告结构体的序列化。
// Redis 只保留每个会话的最新报告，历史报告全部归档在这里。
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"gitguide/internal/model"
)

// Collection 名称常量
const (
	colVerifyReports = "verify_reports"
)

// ReportArchive 验证报告历史归档
type ReportArchive struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewReportArchive 创建报告归档实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "gitguide"
func NewReportArchive(uri, dbName string) (*ReportArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("report archive: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("report archive: ping failed: %w", err)
	}

	a := &ReportArchive{client: client, db: client.Database(dbName)}

	if err := a.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: report archive: ensure indexes failed: %v", err)
	}

	return a, nil
}

// Close 关闭 MongoDB 连接
func (a *ReportArchive) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

func (a *ReportArchive) col() *mongo.Collection {
	return a.db.Collection(colVerifyReports)
}

// ensureIndexes 创建所有必要的索引
func (a *ReportArchive) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "task_id", Value: 1}}},
		{Keys: bson.D{{Key: "workspace_id", Value: 1}}},
	}
	_, err := a.col().Indexes().CreateMany(ctx, indexes)
	return err
}

// SaveReport 归档一份验证报告
func (a *ReportArchive) SaveReport(ctx context.Context, report *model.VerifyReport) error {
	if _, err := a.col().InsertOne(ctx, report); err != nil {
		return fmt.Errorf("report archive: insert failed: %w", err)
	}
	return nil
}

// GetReport 按 ID 获取报告，不存在返回 (nil, nil)
func (a *ReportArchive) GetReport(ctx context.Context, id string) (*model.VerifyReport, error) {
	var report model.VerifyReport
	err := a.col().FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&report)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// LatestReport 获取会话最新的一份报告，不存在返回 (nil, nil)
func (a *ReportArchive) LatestReport(ctx context.Context, sessionID string) (*model.VerifyReport, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var report model.VerifyReport
	err := a.col().FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}, opts).Decode(&report)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// ListReports 列出会话的历史报告，按时间倒序
func (a *ReportArchive) ListReports(ctx context.Context, sessionID string, limit int) ([]*model.VerifyReport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.col().Find(ctx, bson.D{{Key: "session_id", Value: sessionID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var reports []*model.VerifyReport
	for cursor.Next(ctx) {
		var report model.VerifyReport
		if err := cursor.Decode(&report); err != nil {
			return nil, err
		}
		reports = append(reports, &report)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []*model.VerifyReport{}
	}
	return reports, nil
}

// DeleteReportsBySession 删除会话的全部历史报告
func (a *ReportArchive) DeleteReportsBySession(ctx context.Context, sessionID string) error {
	_, err := a.col().DeleteMany(ctx, bson.D{{Key: "session_id", Value: sessionID}})
	return err
}
