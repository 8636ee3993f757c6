package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/repository"
	"mind-namo-go/pkg/log"
)

// SearchService 接口定义了会话内的消息搜索。
type SearchService interface {
	SearchMessages(ctx context.Context, actor model.Party, conversationID, query string, topK int) ([]model.MessageSearchHit, error)
}

type searchService struct {
	esClient  *elasticsearch.Client
	indexName string
	convs     repository.ConversationRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esClient *elasticsearch.Client, indexName string, convs repository.ConversationRepository) SearchService {
	return &searchService{esClient: esClient, indexName: indexName, convs: convs}
}

// SearchMessages 在 actor 所属的会话中做全文搜索。
func (s *searchService) SearchMessages(ctx context.Context, actor model.Party, conversationID, query string, topK int) ([]model.MessageSearchHit, error) {
	conv, err := loadConversation(ctx, s.convs, actor, conversationID)
	if err != nil {
		return nil, err
	}
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, newError(CodeInvalidInput, "query is required")
	}
	if topK <= 0 || topK > 50 {
		topK = 20
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": normalized,
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"conversation_id": conv.ID},
				},
				// 短语匹配加权
				"should": []map[string]interface{}{
					{
						"match_phrase": map[string]interface{}{
							"text_content": map[string]interface{}{
								"query": normalized,
								"boost": 3.0,
							},
						},
					},
				},
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"created_at": "desc"}},
		"size": topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, internalError("failed to encode search query", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, internalError("search failed", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, internalError("search failed", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.MessageDocument `json:"_source"`
				Score  float64               `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, internalError("failed to decode search response", err)
	}

	results := make([]model.MessageSearchHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		// 索引和数据库之间可能短暂不一致，再过滤一次
		if hit.Source.ConversationID != conv.ID {
			continue
		}
		results = append(results, model.MessageSearchHit{
			MessageID:      hit.Source.MessageID,
			ConversationID: hit.Source.ConversationID,
			Sender:         hit.Source.Sender,
			SenderRole:     hit.Source.SenderRole,
			TextContent:    hit.Source.TextContent,
			CreatedAt:      hit.Source.CreatedAt,
			Score:          hit.Score,
		})
	}
	log.Infof("[SearchService] 会话 %s 搜索 '%s' 命中 %d 条", conv.ID, normalized, len(results))
	return results, nil
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 去掉标点并归一空白。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
