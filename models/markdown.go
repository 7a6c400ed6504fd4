package models

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// newDescConverter builds the reusable, goroutine-safe converter used to turn
// a note description's HTML fragment into markdown. The base plugin strips
// script/style/meta noise; commonmark renders emphasis, links and line breaks.
func newDescConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
}

var descConverter = newDescConverter()

// DescMarkdown converts the extracted description HTML to markdown.
// Plain text passes through unchanged; on conversion failure the raw
// fragment is returned rather than losing content.
func DescMarkdown(descHTML string) string {
	if descHTML == "" {
		return ""
	}
	md, err := descConverter.ConvertString(descHTML)
	if err != nil {
		return descHTML
	}
	return strings.TrimSpace(md)
}

// RenderPosts joins each ranked listing item with its detail fields and
// renders the numbered markdown document returned by the tool. Items with no
// resolved detail render with the placeholder's empty fields.
func RenderPosts(listing *Listing, details map[string]DetailPageInfo) string {
	var sb strings.Builder
	for i, item := range listing.Items {
		detail := details[item.ID]

		fmt.Fprintf(&sb, "\n############ 第 %d 篇帖子 ############\n\n", i+1)
		fmt.Fprintf(&sb, "**标题** %s\n", item.Title)
		fmt.Fprintf(&sb, "**内容**:%s\n", DescMarkdown(detail.DescHTML))
		fmt.Fprintf(&sb, "**帖子id**: %s\n", item.ID)
		fmt.Fprintf(&sb, "**发布日期**: %s\n", item.PublishTime)
		fmt.Fprintf(&sb, "**发布者**: %s\n", item.Publisher)
		fmt.Fprintf(&sb, "**发布类型**: %s\n", item.Type)
		fmt.Fprintf(&sb, "**点赞数**: %s\n", item.LikedCount)
		fmt.Fprintf(&sb, "**收藏数**: %s\n", item.CollectedCount)
		fmt.Fprintf(&sb, "**评论数**: %s\n", item.CommentCount)
		fmt.Fprintf(&sb, "**分享数**: %s\n", item.SharedCount)
		fmt.Fprintf(&sb, "**标签**: %s\n", strings.Join(detail.Tags, ", "))
		if detail.IsVideo() {
			fmt.Fprintf(&sb, "**视频**: %s\n", detail.VideoURL)
		}
	}
	return sb.String()
}
