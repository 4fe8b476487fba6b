package testprotocol

// builtinProtocols returns the scripted verification sequences. Trigger
// tokens match the protocol name inside a chat message.
func builtinProtocols() []Protocol {
	return []Protocol{
		{
			Name: "adana01",
			Stages: []Stage{
				{
					Video:         "/assets/protocols/adana01-speaking.mp4",
					AudioProvider: "google",
					DurationMS:    8000,
					Message:       "Adana bir test protokolüdür, Google sesiyle konuşuyorum.",
				},
			},
		},
		{
			Name: "adana02",
			Stages: []Stage{
				{
					Video:         "/assets/avatar/waiting-loop.mp4",
					AudioProvider: "google",
					DurationMS:    5000,
					Message:       "Birinci aşama: bekleme videosu ve Google sesi.",
				},
				{
					Video:         "/assets/avatar/speaking-placeholder.mp4",
					AudioProvider: "elevenlabs",
					DurationMS:    6000,
					Message:       "İkinci aşama: konuşma videosu ve ElevenLabs sesi.",
				},
				{
					Video:         "/assets/avatar/waiting-loop.mp4",
					AudioProvider: "google",
					DurationMS:    4000,
					Message:       "Üçüncü aşama: tekrar bekleme moduna dönüş.",
				},
			},
		},
	}
}
