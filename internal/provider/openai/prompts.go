package openai

// systemPrompt frames every analysis; per-kind prompts steer the focus.
const systemPrompt = `You are Sprinthia, an expert sprint coach and biomechanics analyst. You have extensive knowledge of sprint technique, training methods, and performance optimization. Provide detailed, technical, and actionable feedback on sprint performance. Always be encouraging but precise in your analysis.`

var analysisPrompts = map[string]string{
	"sprint_form": `Analyze this sprint video for running form and technique. Focus on:
- Body posture and alignment
- Arm swing mechanics and coordination
- Leg drive and knee lift
- Overall running efficiency
- Common form errors and corrections
Provide specific, actionable coaching feedback.`,

	"block_start": `Analyze this sprint start from the blocks. Evaluate:
- Starting position and body angle
- First step mechanics and power
- Acceleration phase technique
- Drive phase form
- Transition to upright running
Give detailed technical feedback for improvement.`,

	"stride_length": `Analyze the stride length characteristics in this sprint video:
- Optimal stride length for the athlete's height and speed
- Stride length consistency throughout the race
- Overstriding or understriding issues
- Relationship between stride length and frequency
Provide recommendations for stride optimization.`,

	"stride_frequency": `Examine the stride frequency (cadence) in this sprint performance:
- Steps per second analysis
- Consistency of rhythm
- Optimal cadence for this distance
- Comparison to elite sprint standards
- Areas for frequency improvement
Give specific training recommendations.`,

	"ground_contact_time": `Assess ground contact time and foot strike patterns:
- Duration of foot-ground contact
- Foot strike location (forefoot, midfoot)
- Push-off mechanics and efficiency
- Comparison to optimal contact times
- Impact on sprint performance
Provide technical improvement suggestions.`,

	"flight_time": `Analyze flight time and aerial mechanics:
- Time spent in flight phase
- Body position during flight
- Flight time vs ground contact ratio
- Efficiency of flight phase
- Optimal flight characteristics
Give coaching points for enhancement.`,
}
