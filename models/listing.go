package models

import "encoding/json"

// searchResponse mirrors the relevant slice of the search/notes API payload.
// The interact counts arrive as display strings ("6万"), not numbers, so they
// are kept verbatim.
type searchResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Items []rawItem `json:"items"`
	} `json:"data"`
}

type rawItem struct {
	ID        string `json:"id"`
	ModelType string `json:"model_type"`
	XsecToken string `json:"xsec_token"`
	NoteCard  struct {
		DisplayTitle string `json:"display_title"`
		Type         string `json:"type"`
		Cover        struct {
			URLDefault string `json:"url_default"`
		} `json:"cover"`
		ImageList []struct {
			InfoList []struct {
				URL string `json:"url"`
			} `json:"info_list"`
		} `json:"image_list"`
		InteractInfo struct {
			LikedCount     string `json:"liked_count"`
			CollectedCount string `json:"collected_count"`
			CommentCount   string `json:"comment_count"`
			SharedCount    string `json:"shared_count"`
		} `json:"interact_info"`
		CornerTagInfo []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"corner_tag_info"`
		User struct {
			Nickname string `json:"nickname"`
			UserID   string `json:"user_id"`
		} `json:"user"`
	} `json:"note_card"`
}

// ListingItem is one ranked search result. ID is unique within a listing and
// joins against DetailPageInfo; XsecToken gates access to the detail page.
type ListingItem struct {
	ID             string
	XsecToken      string
	Title          string
	Type           string // "image+text" or "video+text"
	PublishTime    string
	Publisher      string
	PublisherID    string
	LikedCount     string
	CollectedCount string
	CommentCount   string
	SharedCount    string
	CoverURL       string
	Images         []string
}

// Listing is the parsed, ranked result of one search.
type Listing struct {
	Items []ListingItem
}

// ParseListing decodes the replayed search/notes response body. Entries that
// are not notes, or that lack an id or title, are dropped; listing order is
// preserved for the rest.
func ParseListing(body []byte) (*Listing, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFetchError(ErrCodeReplay, "解析搜索结果失败", err)
	}

	listing := &Listing{}
	for _, item := range resp.Data.Items {
		if item.ModelType != "note" {
			continue
		}
		card := item.NoteCard
		if item.ID == "" || card.DisplayTitle == "" {
			continue
		}

		images := make([]string, 0, len(card.ImageList))
		for _, img := range card.ImageList {
			if len(img.InfoList) > 0 && img.InfoList[0].URL != "" {
				images = append(images, img.InfoList[0].URL)
			}
		}

		publishTime := ""
		for _, tag := range card.CornerTagInfo {
			if tag.Type == "publish_time" {
				publishTime = tag.Text
				break
			}
		}

		listing.Items = append(listing.Items, ListingItem{
			ID:             item.ID,
			XsecToken:      item.XsecToken,
			Title:          card.DisplayTitle,
			Type:           noteType(card.Type),
			PublishTime:    publishTime,
			Publisher:      card.User.Nickname,
			PublisherID:    card.User.UserID,
			LikedCount:     card.InteractInfo.LikedCount,
			CollectedCount: card.InteractInfo.CollectedCount,
			CommentCount:   card.InteractInfo.CommentCount,
			SharedCount:    card.InteractInfo.SharedCount,
			CoverURL:       card.Cover.URLDefault,
			Images:         images,
		})
	}
	return listing, nil
}

// Tokens returns the id to xsec_token mapping the detail pipeline consumes.
func (l *Listing) Tokens() map[string]string {
	tokens := make(map[string]string, len(l.Items))
	for _, item := range l.Items {
		tokens[item.ID] = item.XsecToken
	}
	return tokens
}

// Truncate keeps the first limit ranked items.
func (l *Listing) Truncate(limit int) {
	if limit > 0 && len(l.Items) > limit {
		l.Items = l.Items[:limit]
	}
}

func noteType(typ string) string {
	switch typ {
	case "normal":
		return "image+text"
	case "video":
		return "video+text"
	default:
		return typ
	}
}
