package document

import (
	"context"
	"time"
)

// Loader 组合下载与提取：URL → 文本片段序列
type Loader struct {
	fetcher *Fetcher
	manager *ExtractorManager
}

// NewLoader 创建文档加载器
func NewLoader(fetchTimeout time.Duration) *Loader {
	return &Loader{
		fetcher: NewFetcher(fetchTimeout),
		manager: NewExtractorManager(),
	}
}

// Load 下载文档并提取片段；原始字节在返回后即可被回收
func (l *Loader) Load(ctx context.Context, url string) ([]Segment, error) {
	doc, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return l.manager.Extract(doc)
}
