// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"mind-namo-go/internal/config"
	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/log"
)

// messageMapping 是消息索引的结构，只有 text_content 参与全文检索。
const messageMapping = `{
	"mappings": {
		"properties": {
			"message_id": { "type": "keyword" },
			"conversation_id": { "type": "keyword" },
			"sender": { "type": "keyword" },
			"sender_role": { "type": "keyword" },
			"text_content": {
				"type": "text",
				"analyzer": "standard"
			},
			"created_at": { "type": "date" }
		}
	}
}`

// Index 封装了一个消息索引。
type Index struct {
	client *elasticsearch.Client
	name   string
}

// NewClient 创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// NewIndex 返回名为 name 的消息索引，并在不存在时创建它。
func NewIndex(ctx context.Context, client *elasticsearch.Client, name string) (*Index, error) {
	idx := &Index{client: client, name: name}
	if err := idx.createIfNotExists(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *Index) createIfNotExists(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = i.client.Indices.Create(
		i.name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(messageMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", i.name, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.name, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.name)
	return nil
}

// IndexMessage 将单条消息写入索引，消息 ID 作为文档 ID，重复写入会覆盖。
func (i *Index) IndexMessage(ctx context.Context, doc model.MessageDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: doc.MessageID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引消息到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index message")
	}
	return nil
}

// DeleteMessage 从索引中删除一条消息，文档不存在时视为成功。
func (i *Index) DeleteMessage(ctx context.Context, messageID string) error {
	req := esapi.DeleteRequest{
		Index:      i.name,
		DocumentID: messageID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("从 Elasticsearch 删除消息出错: %s", res.String())
		return errors.New("failed to delete message")
	}
	return nil
}
