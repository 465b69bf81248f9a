package offline

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// messageKey names a user-facing message.
type messageKey string

const (
	msgOfflineMode          messageKey = "offline_mode"
	msgConnectivityRequired messageKey = "connectivity_required"
	msgFeatureUnavailable   messageKey = "feature_unavailable"
	msgActionQueued         messageKey = "action_queued"
	msgActionLost           messageKey = "action_lost"
	msgNotFound             messageKey = "not_found"
	msgInvalidInput         messageKey = "invalid_input"
	msgGenericError         messageKey = "generic_error"
)

var catalogs = map[language.Tag]map[messageKey]string{
	language.English: {
		msgOfflineMode:          "You are offline. Showing cached data.",
		msgConnectivityRequired: "No data available. This feature needs an internet connection.",
		msgFeatureUnavailable:   "This feature is currently unavailable.",
		msgActionQueued:         "You are offline. Your request will be sent when the connection is back.",
		msgActionLost:           "Your request could not be saved. Please try again.",
		msgNotFound:             "Nothing found.",
		msgInvalidInput:         "Invalid input. Please check and try again.",
		msgGenericError:         "Something went wrong. Please try again.",
	},
	language.Hindi: {
		msgOfflineMode:          "आप ऑफ़लाइन हैं। कैश डेटा दिखा रहे हैं।",
		msgConnectivityRequired: "कोई डेटा उपलब्ध नहीं। इस सुविधा के लिए इंटरनेट कनेक्शन आवश्यक है।",
		msgFeatureUnavailable:   "यह सुविधा वर्तमान में अनुपलब्ध है।",
		msgActionQueued:         "आप ऑफ़लाइन हैं। कनेक्शन लौटने पर आपका अनुरोध भेज दिया जाएगा।",
		msgActionLost:           "आपका अनुरोध सहेजा नहीं जा सका। कृपया पुनः प्रयास करें।",
		msgNotFound:             "कुछ नहीं मिला।",
		msgInvalidInput:         "अमान्य इनपुट। कृपया जांचें और पुनः प्रयास करें।",
		msgGenericError:         "कुछ गलत हो गया। कृपया पुनः प्रयास करें।",
	},
	language.Marathi: {
		msgOfflineMode:          "तुम्ही ऑफलाइन आहात. कॅश डेटा दाखवत आहे.",
		msgConnectivityRequired: "डेटा उपलब्ध नाही. या वैशिष्ट्यासाठी इंटरनेट कनेक्शन आवश्यक आहे.",
		msgFeatureUnavailable:   "हे वैशिष्ट्य सध्या अनुपलब्ध आहे.",
		msgActionQueued:         "तुम्ही ऑफलाइन आहात. कनेक्शन परत आल्यावर तुमची विनंती पाठवली जाईल.",
		msgActionLost:           "तुमची विनंती जतन करता आली नाही. कृपया पुन्हा प्रयत्न करा.",
		msgNotFound:             "काहीही सापडले नाही.",
		msgInvalidInput:         "अवैध इनपुट. कृपया तपासा आणि पुन्हा प्रयत्न करा.",
		msgGenericError:         "काहीतरी चूक झाली. कृपया पुन्हा प्रयत्न करा.",
	},
}

func init() {
	for tag, msgs := range catalogs {
		for key, text := range msgs {
			message.SetString(tag, string(key), text)
		}
	}
}

var supportedTags = []language.Tag{
	language.English,
	language.Hindi,
	language.Marathi,
}

var tagMatcher = language.NewMatcher(supportedTags)

func localize(tag language.Tag, key messageKey) string {
	return message.NewPrinter(tag).Sprintf(string(key))
}

// resolveTag picks the response language from ?lang= or Accept-Language,
// honouring q-values. Unsupported languages fall back to English.
func resolveTag(r *http.Request) language.Tag {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			if _, idx, conf := tagMatcher.Match(tag); conf != language.No {
				return supportedTags[idx]
			}
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, _ := tagMatcher.Match(tags...)
			return supportedTags[idx]
		}
	}
	return language.English
}
